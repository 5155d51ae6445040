package broker

import (
	"context"
	"fmt"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/common/config"

	"go.uber.org/zap"
)

// New creates a broker of the configured type
func New(ctx context.Context, cfg config.BrokerConfig, logger *zap.Logger) (Broker, error) {
	switch cfg.Type {
	case cnst.BrokerTypeRedis, "":
		return NewRedisBroker(ctx, cfg, logger)
	case cnst.BrokerTypeMemory:
		return NewMemoryBroker(logger, cfg.ChannelBuffer), nil
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnknownBrokerType, cfg.Type)
	}
}
