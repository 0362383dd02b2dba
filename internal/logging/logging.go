package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	// Release selects the JSON production encoder.
	Release bool
	// Silent discards everything.
	Silent bool
	// Debug lowers the level to debug.
	Debug bool
}

func New(o Options) (*zap.Logger, error) {
	if o.Silent {
		return zap.NewNop(), nil
	}
	var config zap.Config
	if o.Release {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if o.Debug {
		config.Level.SetLevel(zap.DebugLevel)
	} else {
		config.Level.SetLevel(zap.InfoLevel)
	}
	return config.Build()
}
