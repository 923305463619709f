package schedule

import "context"

// Task 由协调器启动的长期任务，Run 阻塞到 ctx 结束或出错
type Task interface {
	Run(ctx context.Context) error
	Name() string
}

type funcTask struct {
	name string
	run  func(ctx context.Context) error
}

func (t funcTask) Run(ctx context.Context) error {
	return t.run(ctx)
}

func (t funcTask) Name() string {
	return t.name
}

// NewTask 把普通函数包装成 Task
func NewTask(name string, run func(ctx context.Context) error) Task {
	return funcTask{name: name, run: run}
}
