package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidahmann/hashhelix/core/logx"
	"github.com/davidahmann/hashhelix/core/projectconfig"
	"github.com/davidahmann/hashhelix/core/schema/validate"
	"github.com/davidahmann/hashhelix/core/sign"
)

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

type Options struct {
	ConfigPath string
	// ConfigRequired fails the config check when the file is absent.
	ConfigRequired bool
	SigningKey     sign.KeySource
}

type Result struct {
	Status      string   `json:"status"`
	NonFixable  bool     `json:"non_fixable"`
	Summary     string   `json:"summary"`
	FixCommands []string `json:"fix_commands"`
	Checks      []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
	NonFixable bool   `json:"non_fixable,omitempty"`
}

// Run inspects the local environment a build or verification depends on.
// It never modifies artifacts; write probes use a hidden temp file that is
// removed immediately.
func Run(opts Options) Result {
	configuration, configCheck := checkConfig(opts.ConfigPath, opts.ConfigRequired)
	configuration = configuration.WithDefaults()

	checks := []Check{configCheck, checkSchemas()}
	for _, dir := range []struct{ name, path string }{
		{"lanes_dir", configuration.Runtime.OutDir},
		{"epochs_dir", configuration.Epochs.OutDir},
		{"relics_dir", configuration.Relics.OutDir},
	} {
		checks = append(checks, checkOutputDir(dir.name, dir.path))
	}
	checks = append(checks, checkLedgerLock(configuration.Ledger.Path))
	if opts.SigningKey.Configured() {
		checks = append(checks, checkSigningKey(opts.SigningKey))
	}
	checks = append(checks, checkJournal())

	failed := 0
	warned := 0
	nonFixable := false
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case StatusFail:
			failed++
		case StatusWarn:
			warned++
		}
		if check.NonFixable {
			nonFixable = true
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := StatusPass
	if failed > 0 {
		status = StatusFail
	} else if warned > 0 {
		status = StatusWarn
	}
	sort.Strings(fixCommands)
	return Result{
		Status:      status,
		NonFixable:  nonFixable,
		Summary:     fmt.Sprintf("doctor: status=%s failed=%d warned=%d non_fixable=%t", status, failed, warned, nonFixable),
		FixCommands: fixCommands,
		Checks:      checks,
	}
}

func checkConfig(path string, required bool) (projectconfig.Config, Check) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = projectconfig.DefaultPath
	}
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) && !required {
		return projectconfig.Config{}, Check{
			Name:    "config",
			Status:  StatusPass,
			Message: fmt.Sprintf("no config at %s; built-in defaults apply", path),
		}
	}
	configuration, err := projectconfig.Load(path, false)
	if err != nil {
		return projectconfig.Config{}, Check{
			Name:       "config",
			Status:     StatusFail,
			Message:    fmt.Sprintf("config %s: %v", path, err),
			FixCommand: fmt.Sprintf("edit %s", shellQuote(path)),
		}
	}
	return configuration, Check{
		Name:    "config",
		Status:  StatusPass,
		Message: fmt.Sprintf("config %s is valid", path),
	}
}

func checkSchemas() Check {
	if err := validate.CompileAll(); err != nil {
		return Check{
			Name:       "schemas",
			Status:     StatusFail,
			Message:    fmt.Sprintf("embedded schemas do not compile: %v", err),
			NonFixable: true,
		}
	}
	return Check{
		Name:    "schemas",
		Status:  StatusPass,
		Message: fmt.Sprintf("%d embedded schemas compile", len(validate.Kinds())),
	}
}

func checkOutputDir(name, outputDir string) Check {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:    name,
				Status:  StatusPass,
				Message: fmt.Sprintf("%s does not exist yet; it is created on first build", outputDir),
			}
		}
		return Check{
			Name:    name,
			Status:  StatusFail,
			Message: fmt.Sprintf("%s check failed: %v", outputDir, err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    name,
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not a directory", outputDir),
		}
	}
	testPath := filepath.Join(outputDir, ".hashhelix-doctor-writecheck")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return Check{
			Name:       name,
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s is not writable: %v", outputDir, err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(outputDir)),
		}
	}
	_ = os.Remove(testPath)
	return Check{
		Name:    name,
		Status:  StatusPass,
		Message: fmt.Sprintf("%s is writable", outputDir),
	}
}

// checkLedgerLock warns about a lock file left behind by a crashed writer.
func checkLedgerLock(ledgerPath string) Check {
	lockPath := ledgerPath + ".lock"
	if _, err := os.Stat(lockPath); err == nil {
		return Check{
			Name:       "ledger_lock",
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s exists; appends wait for it until it goes stale", lockPath),
			FixCommand: fmt.Sprintf("rm %s", shellQuote(lockPath)),
		}
	}
	return Check{
		Name:    "ledger_lock",
		Status:  StatusPass,
		Message: fmt.Sprintf("no lock held on %s", ledgerPath),
	}
}

func checkSigningKey(src sign.KeySource) Check {
	priv, err := sign.LoadPrivateKey(src)
	if err != nil {
		return Check{
			Name:       "signing_key",
			Status:     StatusFail,
			Message:    fmt.Sprintf("signing key: %v", err),
			FixCommand: "hashhelix seal keygen",
		}
	}
	pub, err := sign.LoadPublicKey(src)
	if err != nil || !pub.Equal(priv.Public()) {
		return Check{
			Name:    "signing_key",
			Status:  StatusFail,
			Message: "signing key does not derive its public half",
		}
	}
	return Check{
		Name:    "signing_key",
		Status:  StatusPass,
		Message: fmt.Sprintf("signing key %s loads", sign.KeyID(pub)),
	}
}

func checkJournal() Check {
	if logx.IsSystemdService() {
		return Check{Name: "journal", Status: StatusPass, Message: "running as a systemd service; logs go to the journal"}
	}
	return Check{Name: "journal", Status: StatusPass, Message: "not a systemd service; logs go to the terminal"}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
