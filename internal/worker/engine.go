package worker

import (
	"github.com/Carneyyy/task-scheduler-project/internal/config"
	"github.com/Carneyyy/task-scheduler-project/pkg/service"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
)

// Engine bundles the wired scheduling stack backed by the local worker.
type Engine struct {
	Service   *service.TaskService
	Scheduler *service.Scheduler
}

// Build assembles resolver, tracker, scheduler and management service on
// top of the given store, with scripts taken from the catalog file.
func Build(store storage.Store, cfg config.Config, scriptsPath string, logger service.Logger) (*Engine, error) {
	catalog, err := LoadScriptCatalog(scriptsPath)
	if err != nil {
		return nil, err
	}

	node := NewSingleNode(cfg.DispatchWorkers)
	dispatcher := NewLocalDispatcher(logger)
	node.AttachLoad(dispatcher)

	resolver := service.NewDependencyResolver(store, logger)
	tracker := service.NewExecutionTracker(store, logger)
	scheduler := service.NewScheduler(store, resolver, tracker, service.Collaborators{
		Scripts:    catalog,
		Nodes:      node,
		Dispatcher: dispatcher,
		Notifier:   NewLogNotifier(logger),
	}, service.SchedulerConfig{
		TickInterval:    cfg.TickInterval,
		DispatchTimeout: cfg.DispatchTimeout,
		DispatchWorkers: cfg.DispatchWorkers,
	}, logger)
	dispatcher.SetReporter(scheduler.ReportOutcome)

	svc := service.NewTaskService(store, resolver, tracker, scheduler, dispatcher, logger)
	return &Engine{Service: svc, Scheduler: scheduler}, nil
}
