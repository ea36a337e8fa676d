package bus

import (
	"context"
	"log/slog"

	"github.com/bdobrica/relay/common/spec/command"
	"github.com/bdobrica/relay/common/trace"
)

// Log is a Bus that only logs published commands. Subscribe blocks without
// ever delivering anything.
type Log struct{}

// NewLog returns a dry-run bus.
func NewLog() *Log { return &Log{} }

func (*Log) Publish(ctx context.Context, cmd command.Command) error {
	data, err := command.Encode(cmd)
	if err != nil {
		return err
	}
	trace.Logger(ctx).Info("bus: dry-run publish", "payload", string(data))
	return nil
}

func (*Log) Subscribe(ctx context.Context, _ Handler) error {
	slog.Warn("bus: log backend never delivers commands")
	<-ctx.Done()
	return nil
}

func (*Log) Close() error { return nil }
