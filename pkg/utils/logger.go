package utils

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логирования
type LogConfig struct {
	// Level: debug, info, warn, error, fatal (по умолчанию info)
	Level string

	// Format: json или text (по умолчанию json)
	Format string

	// Output: путь к лог-файлу; пустой = stdout
	Output string

	// Development включает режим разработки zap
	// (человекочитаемые stacktrace'ы, DPanic паникует)
	Development bool
}

// Logger - обёртка над zap.Logger с доменными хелперами
//
// Использование:
//
//	log := utils.InitLogger(utils.LogConfig{Level: "info", Format: "json"})
//	log.WithComponent("tracker").Info("order filled", zap.String("symbol", "BTCUSDT"))
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger создаёт и настраивает структурированный logger
//
// Недопустимый уровень или формат не являются ошибкой: применяются
// значения по умолчанию (info, json). Логирование не должно мешать
// запуску торгового процесса.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	var encoderCfg zapcore.EncoderConfig
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.Output != "" {
		if f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		}
		// При ошибке открытия файла остаёмся на stdout
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// parseLevel преобразует строковый уровень в zapcore.Level
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sugar возвращает sugared logger для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// With возвращает дочерний logger с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent добавляет поле component (executor, tracker, ledger, risk, ...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(zap.String("component", name))
}

// WithExchange добавляет поле exchange
func (l *Logger) WithExchange(name string) *Logger {
	return l.With(zap.String("exchange", name))
}

// WithSymbol добавляет поле symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(zap.String("symbol", symbol))
}

// WithPairID добавляет поле pair_id
func (l *Logger) WithPairID(id int) *Logger {
	return l.With(zap.Int("pair_id", id))
}

// Sync сбрасывает буферизованные записи
//
// Ошибка sync для stdout на части платформ ожидаема и игнорируется
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// NopLogger возвращает logger, отбрасывающий все записи (для тестов)
func NopLogger() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}
