package deployer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"gitlab.bluewillows.net/root/hostdeploy/internal/session"
)

// =============================================================================
// Mock Script
// =============================================================================

type testScript struct {
	hosts     []string
	targetErr map[string]error
	deploy    func(ctx context.Context, host string, caps session.Capabilities) error

	mu       sync.Mutex
	deployed []string
}

func newTestScript(hosts ...string) *testScript {
	return &testScript{hosts: hosts, targetErr: make(map[string]error)}
}

func (s *testScript) Hosts() []string { return s.hosts }

func (s *testScript) Target(host string) (session.Target, error) {
	if err := s.targetErr[host]; err != nil {
		return session.Target{}, err
	}
	return session.Target{Host: host, Port: 22, User: "deploy", KeyFile: "/keys/id"}, nil
}

func (s *testScript) Deploy(ctx context.Context, host string, caps session.Capabilities) error {
	s.mu.Lock()
	s.deployed = append(s.deployed, host)
	s.mu.Unlock()

	if s.deploy != nil {
		return s.deploy(ctx, host, caps)
	}
	return nil
}

// =============================================================================
// Mock Session and Opener
// =============================================================================

// testSession embeds the capability interface; only the lifecycle methods
// are implemented.
type testSession struct {
	session.Capabilities
	host       string
	persistErr error
	closeErr   error
	events     *[]string
}

func (s *testSession) Host() string { return s.host }

func (s *testSession) PersistHashlist(ctx context.Context) error {
	*s.events = append(*s.events, "persist "+s.host)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.persistErr
}

func (s *testSession) Close() error {
	*s.events = append(*s.events, "close "+s.host)
	return s.closeErr
}

type testOpener struct {
	openErr    map[string]error
	persistErr map[string]error
	closeErr   map[string]error
	events     []string
}

func newTestOpener() *testOpener {
	return &testOpener{
		openErr:    make(map[string]error),
		persistErr: make(map[string]error),
		closeErr:   make(map[string]error),
	}
}

func (o *testOpener) Open(_ context.Context, target session.Target) (Session, error) {
	o.events = append(o.events, "open "+target.Host)
	if err := o.openErr[target.Host]; err != nil {
		return nil, err
	}
	return &testSession{
		host:       target.Host,
		persistErr: o.persistErr[target.Host],
		closeErr:   o.closeErr[target.Host],
		events:     &o.events,
	}, nil
}

// =============================================================================
// Mock Notifier
// =============================================================================

type testNotifier struct {
	failures []*HostError
	err      error
}

func (n *testNotifier) Notify(_ context.Context, failure *HostError) error {
	n.failures = append(n.failures, failure)
	return n.err
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
