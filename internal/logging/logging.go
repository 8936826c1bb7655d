package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where the process logger writes and how verbose it is.
type Options struct {
	// ToFile writes to ~/.opensampler/logs instead of stderr, which keeps
	// log output out of piped command results.
	ToFile bool
	Debug  bool
}

var (
	logger  = zap.NewNop()
	logFile *os.File
	logDir  string
)

// Init builds the process logger. It can be called again to switch output.
func Init(opts Options) (*zap.Logger, error) {
	Close()

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opts.ToFile {
		f, err := openLogFile()
		if err != nil {
			return nil, err
		}
		logFile = f
		sink = zapcore.AddSync(f)
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), sink, level)
	logger = zap.New(core, zap.AddCaller())
	if opts.ToFile {
		logger.Info("=== OpenSampler session started ===")
	}
	return logger, nil
}

func openLogFile() (*os.File, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	logDir = filepath.Join(homeDir, ".opensampler", "logs")

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logDir, fmt.Sprintf("opensampler-%s.log", timestamp))

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// L returns the current process logger, a no-op logger before Init.
func L() *zap.Logger {
	return logger
}

// Close flushes the logger and closes the log file if one is open.
func Close() {
	_ = logger.Sync()
	if logFile != nil {
		logger.Info("=== OpenSampler session ended ===")
		_ = logger.Sync()
		logFile.Close()
		logFile = nil
	}
	logger = zap.NewNop()
}

// GetLogDir returns the directory where logs are stored.
func GetLogDir() string {
	return logDir
}

// IsFileLogging returns true if logging is going to a file.
func IsFileLogging() bool {
	return logFile != nil
}
