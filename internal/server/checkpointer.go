package server

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Checkpointer runs the checkpoint policy on a cron schedule, serialized
// against query execution by the server lock.
type Checkpointer struct {
	srv  *Server
	cron *cron.Cron
	log  *zap.Logger
}

// NewCheckpointer builds a scheduler around the server.
func NewCheckpointer(srv *Server, log *zap.Logger) *Checkpointer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checkpointer{srv: srv, cron: cron.New(), log: log}
}

// Start registers the schedule (standard 5-field cron spec) and begins
// firing. An empty spec disables the scheduler.
func (cp *Checkpointer) Start(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := cp.cron.AddFunc(spec, func() {
		cp.srv.mu.Lock()
		err := cp.srv.cluster.Checkpoint()
		cp.srv.writesSinceCheckpoint = 0
		cp.srv.mu.Unlock()
		if err != nil {
			cp.log.Error("scheduled checkpoint failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	cp.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running job to finish.
func (cp *Checkpointer) Stop() {
	ctx := cp.cron.Stop()
	<-ctx.Done()
}
