package job

import "github.com/arklink/arklink/internal/arena"

// Context is the single process-wide-per-job holder of the arena, the string
// interner, and the parsed configuration (C4). It is created once per Link
// invocation and destroyed after the emitter has written its output.
type Context struct {
	cfg      *Config
	arena    *arena.Arena
	interner *arena.Interner
	log      Logger
}

// NewContext allocates the arena and interner and copies cfg's reference in;
// the caller retains ownership of cfg but must not mutate it after this call.
func NewContext(cfg *Config) *Context {
	return &Context{
		cfg:      cfg,
		arena:    arena.New(cfg.ArenaOptions),
		interner: arena.NewInterner(cfg.ArenaOptions),
		log:      cfg.log(),
	}
}

// Intern returns the canonical string for bytes; equal content always yields
// an equal (and, within one Context, identical) string.
func (c *Context) Intern(b []byte) string { return c.interner.Intern(b) }

// InternString is Intern for an already-materialized string.
func (c *Context) InternString(s string) string { return c.interner.InternString(s) }

// Config returns the job's parsed configuration.
func (c *Context) Config() *Config { return c.cfg }

// Arena returns the job's bump arena for components that need scratch storage
// with job lifetime (e.g. retaining archive member byte ranges).
func (c *Context) Arena() *arena.Arena { return c.arena }

// Warnf reports a non-fatal diagnostic through the configured Logger.
func (c *Context) Warnf(format string, args ...any) { c.log(LevelWarn, format, args...) }

// Errorf reports a fatal-path diagnostic through the configured Logger. The
// core still returns an error value; this only affects what gets logged.
func (c *Context) Errorf(format string, args ...any) { c.log(LevelError, format, args...) }

// Destroy resets the arena. Every value returned by Intern/Arena().Alloc
// becomes invalid; the Context itself must not be used again.
func (c *Context) Destroy() {
	c.arena.Reset()
}
