package simulator

import (
	"context"
	"time"

	"github.com/vburojevic/simpool/internal/domain"
	"go.uber.org/zap"
)

// Gateway is the device set the pool allocates from.
// Implementations may be slow and eventually consistent: a deleted UDID can
// remain in List output for a while after Delete returns.
type Gateway interface {
	List(ctx context.Context) ([]domain.Device, error)
	Create(ctx context.Context, deviceType, runtime, name string) (string, error)
	Delete(ctx context.Context, udid string) error
	Erase(ctx context.Context, udid string) error
	Shutdown(ctx context.Context, udid string) error
	SupportedConfigurations(ctx context.Context) (domain.Platform, error)
}

// LoggingGateway logs every device set interaction at debug level
type LoggingGateway struct {
	Gateway
	logger *zap.Logger
}

// WithLogging wraps a gateway so each call is logged
func WithLogging(gw Gateway, logger *zap.Logger) *LoggingGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingGateway{Gateway: gw, logger: logger.Named("deviceset")}
}

func (g *LoggingGateway) List(ctx context.Context) ([]domain.Device, error) {
	start := time.Now()
	devices, err := g.Gateway.List(ctx)
	g.logger.Debug("list", zap.Int("devices", len(devices)), zap.Duration("took", time.Since(start)), zap.Error(err))
	return devices, err
}

func (g *LoggingGateway) Create(ctx context.Context, deviceType, runtime, name string) (string, error) {
	start := time.Now()
	udid, err := g.Gateway.Create(ctx, deviceType, runtime, name)
	g.logger.Debug("create",
		zap.String("device_type", deviceType),
		zap.String("runtime", runtime),
		zap.String("name", name),
		zap.String("udid", udid),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return udid, err
}

func (g *LoggingGateway) Delete(ctx context.Context, udid string) error {
	err := g.Gateway.Delete(ctx, udid)
	g.logger.Debug("delete", zap.String("udid", udid), zap.Error(err))
	return err
}

func (g *LoggingGateway) Erase(ctx context.Context, udid string) error {
	err := g.Gateway.Erase(ctx, udid)
	g.logger.Debug("erase", zap.String("udid", udid), zap.Error(err))
	return err
}

func (g *LoggingGateway) Shutdown(ctx context.Context, udid string) error {
	err := g.Gateway.Shutdown(ctx, udid)
	g.logger.Debug("shutdown", zap.String("udid", udid), zap.Error(err))
	return err
}
