package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lowforge/internal/config"
	"lowforge/internal/logging"
	"lowforge/internal/model"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// RodFactory owns the shared Chrome process and opens one incognito page
// per driver session.
type RodFactory struct {
	cfg *config.Config

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewRodFactory creates a factory; Chrome is launched lazily on the
// first NewDriver call.
func NewRodFactory(cfg *config.Config) *RodFactory {
	return &RodFactory{cfg: cfg}
}

// start connects to Chrome, launching it when needed. A stale connection
// from a previous run is detected and replaced.
func (f *RodFactory) start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return nil
		}
		logging.AutomationWarn("Stale browser connection detected, reconnecting")
		_ = f.browser.Close()
		f.browser = nil
		f.controlURL = ""
	}

	url, err := launcher.New().Headless(f.cfg.Automation.Headless).Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	f.browser = browser
	f.controlURL = url
	logging.Automation("Browser connected (headless=%v)", f.cfg.Automation.Headless)
	return nil
}

// NewDriver opens a fresh incognito session against the platform.
func (f *RodFactory) NewDriver(ctx context.Context) (Driver, error) {
	if err := f.start(ctx); err != nil {
		return nil, err
	}

	incognito, err := f.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportDim(f.cfg.Automation.ViewportWidth, 1920),
		Height:            viewportDim(f.cfg.Automation.ViewportHeight, 1080),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.AutomationWarn("Failed to set viewport: %v", err)
	}

	session := model.NewSessionInfo(f.cfg.Platform.BaseURL)
	session.Username = f.cfg.Platform.Username

	d := &RodDriver{
		cfg:           f.cfg,
		page:          page,
		session:       session,
		screenshotDir: f.cfg.Automation.ScreenshotDir,
		slowMo:        f.cfg.GetSlowMo(),
		timeout:       f.cfg.GetAutomationTimeout(),
	}
	logging.Automation("Session %s created for %s", session.ID, session.PlatformURL)
	return d, nil
}

// Shutdown closes the shared browser process.
func (f *RodFactory) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	f.controlURL = ""
	return err
}

func viewportDim(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// RodDriver drives one browser page. Not safe for concurrent use; each
// workflow instance owns exactly one driver.
type RodDriver struct {
	cfg           *config.Config
	page          *rod.Page
	session       *model.SessionInfo
	screenshotDir string
	slowMo        time.Duration
	timeout       time.Duration
}

// Session returns the session bookkeeping record.
func (d *RodDriver) Session() *model.SessionInfo {
	return d.session
}

// Navigate loads the URL and waits for the page to settle.
func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	d.session.Touch()
	if err := d.page.Context(ctx).Timeout(d.timeout).Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := d.page.Context(ctx).Timeout(d.timeout).WaitLoad(); err != nil {
		logging.AutomationWarn("WaitLoad after navigate: %v", err)
	}
	d.session.CurrentURL = url
	logging.Automation("Session %s navigated to %s", d.session.ID, url)
	return nil
}

// Screenshot captures the viewport into the screenshot directory and
// returns the file path.
func (d *RodDriver) Screenshot(ctx context.Context) (string, error) {
	d.session.Touch()
	data, err := d.page.Context(ctx).Timeout(d.timeout).Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(d.screenshotDir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	path := filepath.Join(d.screenshotDir, fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405"), uuid.New().String()[:8]))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// ExecuteOperation runs one operation against the page, recording the
// outcome on the operation itself.
func (d *RodDriver) ExecuteOperation(ctx context.Context, op *model.Operation) bool {
	start := time.Now()
	d.session.Touch()

	if before, err := d.Screenshot(ctx); err == nil {
		op.ScreenshotBefore = before
	}

	err := d.performAction(ctx, op)

	if d.slowMo > 0 {
		time.Sleep(d.slowMo)
	}
	if after, serr := d.Screenshot(ctx); serr == nil {
		op.ScreenshotAfter = after
	}

	op.ExecutionTime = time.Since(start).Seconds()
	if err != nil {
		op.Success = false
		op.ErrorMessage = err.Error()
		op.RetryCount++
		logging.AutomationError("Operation %s (%s %s) failed after %.2fs: %v",
			op.ID, op.Action, op.TargetElement, op.ExecutionTime, err)
		return false
	}
	op.Success = true
	op.ErrorMessage = ""
	logging.Automation("Operation %s (%s %s) completed in %.2fs",
		op.ID, op.Action, op.TargetElement, op.ExecutionTime)
	return true
}

// performAction dispatches on the operation's action verb.
func (d *RodDriver) performAction(ctx context.Context, op *model.Operation) error {
	page := d.page.Context(ctx).Timeout(op.Timeout())

	switch op.Action {
	case model.ActionClick:
		el, err := page.Element(op.TargetElement)
		if err != nil {
			return fmt.Errorf("element not found: %w", err)
		}
		return el.Click(proto.InputMouseButtonLeft, 1)

	case model.ActionFill:
		el, err := page.Element(op.TargetElement)
		if err != nil {
			return fmt.Errorf("element not found: %w", err)
		}
		if err := el.SelectAllText(); err == nil {
			_ = el.Input("")
		}
		return el.Input(paramString(op, "value"))

	case model.ActionSelect:
		el, err := page.Element(op.TargetElement)
		if err != nil {
			return fmt.Errorf("element not found: %w", err)
		}
		return el.Select([]string{paramString(op, "value")}, true, rod.SelectorTypeText)

	case model.ActionDragDrop:
		source, err := page.Element(op.TargetElement)
		if err != nil {
			return fmt.Errorf("drag source not found: %w", err)
		}
		targetSel := paramString(op, "target")
		if targetSel == "" {
			return fmt.Errorf("drag_drop requires a 'target' parameter")
		}
		target, err := page.Element(targetSel)
		if err != nil {
			return fmt.Errorf("drop target not found: %w", err)
		}
		srcBox, err := source.Shape()
		if err != nil {
			return fmt.Errorf("drag source shape: %w", err)
		}
		dstBox, err := target.Shape()
		if err != nil {
			return fmt.Errorf("drop target shape: %w", err)
		}
		src := srcBox.OnePointInside()
		dst := dstBox.OnePointInside()
		if src == nil || dst == nil {
			return fmt.Errorf("drag_drop elements not visible")
		}
		mouse := page.Mouse
		if err := mouse.MoveTo(*src); err != nil {
			return err
		}
		if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}
		if err := mouse.MoveLinear(*dst, 10); err != nil {
			return err
		}
		return mouse.Up(proto.InputMouseButtonLeft, 1)

	case model.ActionHover:
		el, err := page.Element(op.TargetElement)
		if err != nil {
			return fmt.Errorf("element not found: %w", err)
		}
		return el.Hover()

	case model.ActionWait:
		d := waitDuration(op)
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case model.ActionScreenshot:
		path, err := d.Screenshot(ctx)
		if err != nil {
			return err
		}
		op.Parameters["screenshot_path"] = path
		return nil

	case model.ActionValidate:
		_, err := page.Element(op.TargetElement)
		if err != nil {
			return fmt.Errorf("expected element %s not present: %w", op.TargetElement, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported action: %s", op.Action)
	}
}

// Checkpoint snapshots the session immediately before an operation runs.
func (d *RodDriver) Checkpoint(ctx context.Context, solutionID string, operationIndex int) (*model.OperationCheckpoint, error) {
	cp := model.NewCheckpoint(solutionID, operationIndex)

	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	cp.StateSnapshot["url"] = info.URL
	cp.StateSnapshot["title"] = info.Title
	cp.StateSnapshot["viewport"] = map[string]interface{}{
		"width":  viewportDim(d.cfg.Automation.ViewportWidth, 1920),
		"height": viewportDim(d.cfg.Automation.ViewportHeight, 1080),
	}
	cp.StateSnapshot["timestamp"] = cp.CreatedAt.Format(time.RFC3339)

	if html, err := d.page.Context(ctx).HTML(); err == nil {
		cp.StateSnapshot["page_summary"] = SummarizePage(html)
	}

	if path, err := d.Screenshot(ctx); err == nil {
		cp.ScreenshotPath = path
	}

	d.session.CurrentURL = info.URL
	logging.AutomationDebug("Checkpoint %s created for %s[%d] at %s", cp.ID, solutionID, operationIndex, info.URL)
	logging.Audit(logging.AuditCheckpoint, "", cp.ID, info.URL, map[string]interface{}{
		"solution_id":     solutionID,
		"operation_index": operationIndex,
	})
	return cp, nil
}

// loginSelectors are tried in order when filling the login form; the
// platform's markup varies between deployments.
var (
	usernameSelectors = []string{
		"input[name='username']",
		"input[name='email']",
		"input[type='email']",
		"#username",
		"#email",
	}
	passwordSelectors = []string{
		"input[name='password']",
		"input[type='password']",
		"#password",
	}
	submitSelectors = []string{
		"button[type='submit']",
		"input[type='submit']",
		"button.login",
		"#login-button",
	}
)

// Authenticate drives the platform login form and verifies the result by
// URL change or the presence of a user menu.
func (d *RodDriver) Authenticate(ctx context.Context, username, password, loginURL string) (bool, error) {
	if d.session.IsAuthenticated {
		return true, nil
	}
	if username == "" || password == "" {
		return false, fmt.Errorf("credentials not configured")
	}

	if err := d.Navigate(ctx, loginURL); err != nil {
		return false, err
	}

	if err := d.fillFirst(ctx, usernameSelectors, username); err != nil {
		return false, fmt.Errorf("fill username: %w", err)
	}
	if err := d.fillFirst(ctx, passwordSelectors, password); err != nil {
		return false, fmt.Errorf("fill password: %w", err)
	}
	if err := d.clickFirst(ctx, submitSelectors); err != nil {
		return false, fmt.Errorf("submit login: %w", err)
	}

	if err := d.page.Context(ctx).Timeout(d.timeout).WaitLoad(); err != nil {
		logging.AutomationWarn("WaitLoad after login: %v", err)
	}

	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return false, fmt.Errorf("page info after login: %w", err)
	}
	loggedIn := info.URL != loginURL
	if !loggedIn {
		// Some deployments stay on the login URL; look for a user menu.
		if _, err := d.page.Context(ctx).Timeout(2 * time.Second).Element(".user-menu, .avatar, [data-testid='user-menu']"); err == nil {
			loggedIn = true
		}
	}

	d.session.IsAuthenticated = loggedIn
	d.session.Username = username
	d.session.CurrentURL = info.URL
	if loggedIn {
		logging.Automation("Session %s authenticated as %s", d.session.ID, username)
	} else {
		logging.AutomationWarn("Session %s login as %s did not stick (still at %s)", d.session.ID, username, info.URL)
	}
	return loggedIn, nil
}

func (d *RodDriver) fillFirst(ctx context.Context, selectors []string, value string) error {
	for _, sel := range selectors {
		el, err := d.page.Context(ctx).Timeout(2 * time.Second).Element(sel)
		if err != nil {
			continue
		}
		return el.Input(value)
	}
	return fmt.Errorf("no matching element among %v", selectors)
}

func (d *RodDriver) clickFirst(ctx context.Context, selectors []string) error {
	for _, sel := range selectors {
		el, err := d.page.Context(ctx).Timeout(2 * time.Second).Element(sel)
		if err != nil {
			continue
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	}
	return fmt.Errorf("no matching element among %v", selectors)
}

// Close releases the session page. The shared browser stays up for other
// sessions.
func (d *RodDriver) Close() error {
	logging.Automation("Session %s closed", d.session.ID)
	return d.page.Close()
}

// paramString reads a string parameter from the operation's bag.
func paramString(op *model.Operation, key string) string {
	if op.Parameters == nil {
		return ""
	}
	if v, ok := op.Parameters[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// waitDuration resolves a wait action's duration: "duration" parameter
// (Go syntax or plain seconds), defaulting to one second.
func waitDuration(op *model.Operation) time.Duration {
	raw := strings.TrimSpace(paramString(op, "duration"))
	if raw == "" {
		return time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%f", &secs); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}
