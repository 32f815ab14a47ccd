package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewWritesDailyFile(t *testing.T) {
	root := t.TempDir()
	prev := zap.L()
	defer zap.ReplaceGlobals(prev)

	l, err := New(root, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Infow("hello", "k", "v")
	_ = l.Sync()

	name := filepath.Join(root, "logs", time.Now().Format("2006-01-02")+".log")
	raw, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("log file is empty")
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()) != zap.S() {
		t.Fatal("expected global sugared logger")
	}

	l := zap.NewNop().Sugar()
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("expected context logger")
	}
}
