package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type echoPlugin struct {
	initCfg map[string]any
	initErr error
}

func (p *echoPlugin) Name() string        { return "echo" }
func (p *echoPlugin) Version() string     { return "1.0.0" }
func (p *echoPlugin) Description() string { return "echoes its params back" }

func (p *echoPlugin) Init(cfg map[string]any) error {
	p.initCfg = cfg
	return p.initErr
}

func (p *echoPlugin) Methods() map[string]Method {
	return map[string]Method{
		"echo": func(_ context.Context, params map[string]any) (*Result, error) {
			return OK(params), nil
		},
		"fail": func(context.Context, map[string]any) (*Result, error) {
			return Fail("deliberate failure"), nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	p := &echoPlugin{}
	if err := r.Register(p, map[string]any{"k": "v"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.initCfg["k"] != "v" {
		t.Fatal("Init did not receive config")
	}

	res, err := r.Execute(context.Background(), "echo", "echo", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Data["x"] != 1 {
		t.Fatalf("result = %+v", res)
	}

	res, err = r.Execute(context.Background(), "echo", "fail", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error != "deliberate failure" {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteUnknown(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if _, err := r.Execute(context.Background(), "ghost", "echo", nil); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("err = %v, want ErrPluginNotFound", err)
	}

	if err := r.Register(&echoPlugin{}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Execute(context.Background(), "echo", "ghost", nil); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("err = %v, want ErrMethodNotFound", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(&echoPlugin{}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&echoPlugin{}, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterConcurrentSameName(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Register(&echoPlugin{}, nil)
		}(i)
	}
	wg.Wait()

	registered := 0
	for _, err := range errs {
		switch {
		case err == nil:
			registered++
		case errors.Is(err, ErrAlreadyExists):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if registered != 1 {
		t.Fatalf("%d registrations succeeded, want exactly 1", registered)
	}
	if len(r.List()) != 1 {
		t.Fatalf("registry holds %d entries", len(r.List()))
	}
}

func TestRegisterInitFailure(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	boom := errors.New("boom")
	if err := r.Register(&echoPlugin{initErr: boom}, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want init error", err)
	}
	if _, ok := r.Get("echo"); ok {
		t.Fatal("failed plugin was registered anyway")
	}
}

func TestUnregisterAndList(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(&echoPlugin{}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	infos := r.List()
	if len(infos) != 1 || infos[0].Name != "echo" || len(infos[0].Methods) != 2 {
		t.Fatalf("List = %+v", infos)
	}

	if !r.Unregister("echo") {
		t.Fatal("Unregister returned false")
	}
	if r.Unregister("echo") {
		t.Fatal("Unregister returned true for missing plugin")
	}
	if len(r.List()) != 0 {
		t.Fatal("plugin still listed after Unregister")
	}
}
