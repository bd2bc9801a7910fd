// Package hub wires the object registry, connection registry, notification
// bus and query coordinator into the Manager used by the transports.
package hub

import (
	"context"
	"time"

	"github.com/vinayprograms/objecthub/bus"
	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/logging"
	"github.com/vinayprograms/objecthub/query"
	"github.com/vinayprograms/objecthub/registry"
	"github.com/vinayprograms/objecthub/store"
	"github.com/vinayprograms/objecthub/telemetry"
)

// Config configures a Manager.
type Config struct {
	// Store persists objects. Default: transient.
	Store store.Store

	// ReadOnly rejects every mutating operation.
	ReadOnly bool

	// QueryWindow bounds how long a query collects replies.
	// Default: query.DefaultWindow
	QueryWindow time.Duration

	// Mirror, when set, receives a copy of every broadcast.
	Mirror bus.Mirror

	// SubjectPrefix names mirror subjects. Default: "objecthub"
	SubjectPrefix string

	// Logger is the parent logger. Default: discard.
	Logger *logging.Logger

	// Tracer records spans. Default: the global tracer.
	Tracer *telemetry.Tracer
}

// Manager is the hub's single service object.
type Manager struct {
	conns    *bus.Connections
	bus      *bus.Bus
	objects  *registry.Registry
	queries  *query.Coordinator
	store    store.Store
	readOnly bool

	log    *logging.Logger
	tracer *telemetry.Tracer
}

// New builds a Manager. Call Load to recover persisted objects.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewTransient()
	}

	busCfg := bus.DefaultConfig()
	busCfg.Mirror = cfg.Mirror
	if cfg.SubjectPrefix != "" {
		busCfg.SubjectPrefix = cfg.SubjectPrefix
	}

	conns := bus.NewConnections(cfg.Logger.WithComponent("connections"))
	b := bus.New(conns, busCfg, cfg.Logger.WithComponent("bus"))

	return &Manager{
		conns: conns,
		bus:   b,
		objects: registry.New(registry.Config{
			Store:    cfg.Store,
			Notifier: b,
			ReadOnly: cfg.ReadOnly,
			Logger:   cfg.Logger.WithComponent("registry"),
		}),
		queries:  query.New(b, conns, cfg.QueryWindow, cfg.Logger.WithComponent("query")),
		store:    cfg.Store,
		readOnly: cfg.ReadOnly,
		log:      cfg.Logger.WithComponent("hub"),
		tracer:   cfg.Tracer,
	}
}

// OpenStore returns a file store rooted at dir, or a transient store when dir
// is empty or cannot be created.
func OpenStore(dir string, log *logging.Logger) store.Store {
	if log == nil {
		log = logging.Discard()
	}
	if dir == "" {
		return store.NewTransient()
	}
	fs, err := store.NewFileStore(dir, log.WithComponent("store"))
	if err != nil {
		log.Warn("persistence unavailable, falling back to transient mode", map[string]interface{}{
			"dir":   dir,
			"error": err.Error(),
		})
		return store.NewTransient()
	}
	return fs
}

// Open builds a Manager and loads its persisted objects. When a persistent
// store cannot be read the Manager is rebuilt over a transient store and a
// warning is logged; the returned count is then zero.
func Open(ctx context.Context, cfg Config) (*Manager, int) {
	m := New(cfg)
	n, err := m.Load(ctx)
	if err == nil {
		return m, n
	}

	m.log.Warn("loading objects failed, falling back to transient mode", map[string]interface{}{
		"error": err.Error(),
	})
	cfg.Store = store.NewTransient()
	return New(cfg), 0
}

// Load recovers persisted objects and returns how many were loaded.
func (m *Manager) Load(ctx context.Context) (int, error) {
	n, err := m.objects.Load(ctx)
	if err != nil {
		return 0, err
	}
	m.log.Info("objects loaded", map[string]interface{}{
		"count":      n,
		"persistent": m.store.Persistent(),
	})
	return n, nil
}

// ReadOnly reports whether mutations are rejected.
func (m *Manager) ReadOnly() bool { return m.readOnly }

// Persistent reports whether objects survive a restart.
func (m *Manager) Persistent() bool { return m.store.Persistent() }

// QueryWindow returns the reply window for queries.
func (m *Manager) QueryWindow() time.Duration { return m.queries.Window() }

// --- Mutations ---

// Update is the general create, update or delete entry point.
func (m *Manager) Update(ctx context.Context, key string, meta map[string]any, data []byte) error {
	op := "update"
	if meta == nil && data == nil {
		op = "delete"
	}
	ctx, span := m.tracer.StartObjectSpan(ctx, op, key)
	err := m.objects.Update(ctx, key, meta, data)
	m.tracer.EndObjectSpan(span, telemetry.ObjectSpanOptions{
		HasMeta:  meta != nil,
		HasData:  data != nil,
		DataSize: len(data),
		Meta:     meta,
	}, err)
	return err
}

// Publish replaces an object's metadata.
func (m *Manager) Publish(ctx context.Context, key string, meta map[string]any) error {
	if meta == nil {
		return errors.InvalidInput("metadata must be a JSON object", errors.WithKey(key))
	}
	return m.Update(ctx, key, meta, nil)
}

// PutData replaces an object's payload.
func (m *Manager) PutData(ctx context.Context, key string, data []byte) error {
	if data == nil {
		return errors.InvalidInput("payload is required", errors.WithKey(key))
	}
	return m.Update(ctx, key, nil, data)
}

// Delete removes an object.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.Update(ctx, key, nil, nil)
}

// Control broadcasts meta to every client without touching any object.
func (m *Manager) Control(ctx context.Context, meta any) (int, error) {
	if m.readOnly {
		return 0, errors.ReadOnly("control")
	}
	_, span := m.tracer.StartBroadcastSpan(ctx, bus.OpControl)
	n := m.bus.Broadcast(bus.Notification{Operation: bus.OpControl, Meta: meta})
	m.tracer.EndBroadcastSpan(span, n, nil)
	return n, nil
}

// Query broadcasts a query and collects replies until every client attached
// now has answered or the window elapses.
func (m *Manager) Query(ctx context.Context) ([]query.Response, error) {
	if m.readOnly {
		return nil, errors.ReadOnly("query")
	}
	ctx, span := m.tracer.StartQuerySpan(ctx)
	p := m.queries.Issue()
	responses, err := m.queries.Wait(ctx, p)
	m.tracer.EndQuerySpan(span, telemetry.QuerySpanOptions{
		ID:       p.ID(),
		Expected: p.Expected(),
		Received: len(responses),
	}, err)
	return responses, err
}

// --- Connections ---

// Attach registers a push connection and returns its client id.
func (m *Manager) Attach(conn bus.Conn) int64 {
	return m.conns.Attach(conn)
}

// Detach removes a push connection and reaps queries it can no longer answer.
func (m *Manager) Detach(conn bus.Conn) {
	m.conns.Detach(conn)
	m.queries.Clean()
}

// HandleIncoming routes a client message to the open queries.
func (m *Manager) HandleIncoming(addr string, data []byte) bool {
	return m.queries.HandleIncoming(addr, data)
}

// Clients returns the number of attached connections.
func (m *Manager) Clients() int {
	return m.conns.Count()
}

// --- Reads ---

// Get returns a snapshot of one object.
func (m *Manager) Get(key string) (*registry.Object, error) {
	return m.objects.Get(key)
}

// Metadata returns an object's metadata; nil when it has none yet.
func (m *Manager) Metadata(key string) (map[string]any, error) {
	return m.objects.Metadata(key)
}

// Data returns an object's payload.
func (m *Manager) Data(key string) ([]byte, error) {
	return m.objects.Data(key)
}

// List returns the keys of objects that have metadata.
func (m *Manager) List() []string {
	return m.objects.List()
}

// Close releases the mirror.
func (m *Manager) Close() error {
	return m.bus.Close()
}
