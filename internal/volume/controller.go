package volume

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"

	"go.uber.org/multierr"
)

const mapperDir = "/dev/mapper"

// Controller owns the state of one volume. All methods are safe for
// concurrent use; lifecycle operations on the same device run one at a time.
type Controller struct {
	cfg      Config
	backend  Backend
	probe    MountProbe
	locks    *Locks
	lock     *sync.Mutex
	minScore int
	logger   log.Logger

	mu    sync.Mutex
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocks sets the lock registry. Controllers for the same device must
// share one registry.
func WithLocks(l *Locks) Option {
	return func(c *Controller) { c.locks = l }
}

// WithMinPassphraseScore sets the zxcvbn score (0-4) a new passphrase must
// reach. Zero accepts any non-empty passphrase.
func WithMinPassphraseScore(score int) Option {
	return func(c *Controller) { c.minScore = score }
}

// New creates a Controller in the Locked state.
func New(cfg Config, backend Backend, probe MountProbe, opts ...Option) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		backend: backend,
		probe:   probe,
		locks:   DefaultLocks,
		state:   Locked,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lock = c.locks.For(cfg.Device)
	c.logger = log.With(
		log.String("component", "volume"),
		log.String("device", cfg.Device),
		log.String("mapped", cfg.MappedName),
	)
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the resolved configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Handle returns a snapshot of the volume.
func (c *Controller) Handle() Handle {
	return Handle{
		Device:     c.cfg.Device,
		MappedName: c.cfg.MappedName,
		MapperPath: c.mapperPath(),
		MountPath:  c.cfg.MountPath,
		FSType:     c.cfg.FSType,
		State:      c.State(),
	}
}

func (c *Controller) mapperPath() string {
	return filepath.Join(mapperDir, c.cfg.MappedName)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("state changed", log.Stringer("from", prev), log.Stringer("state", s))
	}
}

// fail annotates err with the operation and its taxonomy kind.
func (c *Controller) fail(op string, err error) error {
	kind := errors.Kind(err)
	if kind == nil {
		kind = errors.ErrProcess
	}
	c.logger.Warn("operation failed", log.Op(op), log.String("kind", kind.Error()), log.Err(err))
	return errors.NewVolumeError(op, c.cfg.Device, kind, err)
}

func (c *Controller) stateError(op string) error {
	return errors.NewVolumeError(op, c.cfg.Device, errors.ErrDeviceState,
		fmt.Errorf("volume is %s", c.State()))
}

// Unlock opens the volume with passphrase and mounts it. Unlocking a volume
// that is already mounted succeeds without doing anything; this includes a
// volume unlocked by another controller while this call waited for the lock.
func (c *Controller) Unlock(ctx context.Context, passphrase []byte) error {
	const op = "unlock"
	if len(passphrase) == 0 {
		return c.fail(op, errors.ErrPasswordEmpty)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	switch c.State() {
	case Mounted:
		c.logger.Debug("already mounted", log.Op(op))
		return nil
	case Locked, Error:
	default:
		return c.stateError(op)
	}

	if st, err := c.observe(ctx); err == nil && st == Mounted {
		c.setState(Mounted)
		c.logger.Info("volume already unlocked", log.Op(op), log.String("mount", c.cfg.MountPath))
		return nil
	}

	prev := c.State()
	if err := c.preCheck(ctx); err != nil {
		c.setState(prev)
		return c.fail(op, err)
	}

	c.setState(Unlocking)
	if err := c.backend.Open(ctx, c.cfg.Device, c.cfg.MappedName, passphrase); err != nil {
		c.setState(Locked)
		return c.fail(op, err)
	}

	if err := c.mount(ctx); err != nil {
		// do not leave a mapping behind that nothing is mounted from
		if cerr := c.backend.Close(ctx, c.cfg.MappedName); cerr != nil {
			c.setState(Error)
			return c.fail(op, multierr.Append(err, cerr))
		}
		c.setState(Locked)
		return c.fail(op, err)
	}

	c.setState(Mounted)
	c.logger.Info("volume unlocked", log.Op(op), log.String("mount", c.cfg.MountPath))
	return nil
}

// PreCheck clears leftovers of an earlier session: a filesystem still
// mounted on the mount path is unmounted and an idle mapping is closed.
// A mapping held open by another process is a Busy failure and is left
// untouched.
func (c *Controller) PreCheck(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	prev := c.State()
	if err := c.preCheck(ctx); err != nil {
		c.setState(prev)
		return c.fail("precheck", err)
	}
	c.setState(Locked)
	return nil
}

func (c *Controller) preCheck(ctx context.Context) error {
	c.setState(Busy)

	mounted, err := c.probe.IsMounted(c.cfg.MountPath)
	if err != nil {
		return err
	}
	if mounted {
		c.logger.Info("unmounting stale mount", log.String("mount", c.cfg.MountPath))
		if err := c.backend.Unmount(ctx, c.cfg.MountPath, false); err != nil {
			return err
		}
	}

	active, err := c.backend.Status(ctx, c.cfg.MappedName)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	n, err := c.backend.OpenCount(ctx, c.cfg.MappedName)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.Wrap(errors.ErrBusy, fmt.Sprintf("%s is held open by %d handle(s)", c.cfg.MappedName, n))
	}
	c.logger.Info("closing stale mapping")
	return c.backend.Close(ctx, c.cfg.MappedName)
}

// Mount mounts an already open mapping on the mount path.
func (c *Controller) Mount(ctx context.Context) error {
	const op = "mount"
	c.lock.Lock()
	defer c.lock.Unlock()

	active, err := c.backend.Status(ctx, c.cfg.MappedName)
	if err != nil {
		return c.fail(op, err)
	}
	if !active {
		return errors.NewVolumeError(op, c.cfg.Device, errors.ErrDeviceState,
			fmt.Errorf("mapping %s is not active", c.cfg.MappedName))
	}
	mounted, err := c.probe.IsMounted(c.cfg.MountPath)
	if err != nil {
		return c.fail(op, err)
	}
	if mounted {
		return errors.NewVolumeError(op, c.cfg.Device, errors.ErrDeviceState,
			fmt.Errorf("%s is already mounted", c.cfg.MountPath))
	}

	if err := c.mount(ctx); err != nil {
		c.setState(Error)
		return c.fail(op, err)
	}
	c.setState(Mounted)
	return nil
}

func (c *Controller) mount(ctx context.Context) error {
	if err := c.backend.MakeDir(ctx, c.cfg.MountPath); err != nil {
		return err
	}
	return c.backend.Mount(ctx, c.mapperPath(), c.cfg.MountPath, c.cfg.FSType)
}

// Unmount force-unmounts the filesystem and closes the mapping. Unmounting a
// Locked volume does nothing; call Refresh first when the volume may have
// been unlocked by another process. On failure the state becomes Error and
// Unmount may be retried.
func (c *Controller) Unmount(ctx context.Context) error {
	const op = "unmount"
	c.lock.Lock()
	defer c.lock.Unlock()

	switch c.State() {
	case Locked:
		return nil
	case Mounted, Error:
	default:
		return c.stateError(op)
	}

	c.setState(Unmounting)
	if err := c.backend.Unmount(ctx, c.cfg.MountPath, true); err != nil {
		c.setState(Error)
		return c.fail(op, err)
	}
	if err := c.backend.Close(ctx, c.cfg.MappedName); err != nil {
		c.setState(Error)
		return c.fail(op, err)
	}

	c.setState(Locked)
	c.logger.Info("volume locked", log.Op(op))
	return nil
}

// Refresh sets the state from what the system reports: Mounted when the
// mapping is active and mounted, Locked when neither is, Error otherwise.
func (c *Controller) Refresh(ctx context.Context) (State, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	st, err := c.observe(ctx)
	if err != nil {
		return c.State(), c.fail("refresh", err)
	}
	c.setState(st)
	return st, nil
}

func (c *Controller) observe(ctx context.Context) (State, error) {
	mounted, err := c.probe.IsMounted(c.cfg.MountPath)
	if err != nil {
		return Error, err
	}
	active, err := c.backend.Status(ctx, c.cfg.MappedName)
	if err != nil {
		return Error, err
	}
	switch {
	case active && mounted:
		return Mounted, nil
	case !active && !mounted:
		return Locked, nil
	}
	return Error, nil
}
