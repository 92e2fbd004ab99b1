package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/themerig/internal/logger"
)

// Spec describes how to launch one supervised service.
type Spec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Command string        `json:"command" mapstructure:"command"` // e.g. "npm start"; shell used only when needed
	WorkDir string        `json:"work_dir" mapstructure:"workdir"`
	Env     []string      `json:"env" mapstructure:"env"` // KEY=VALUE, applied over the composed env
	Log     logger.Config `json:"-" mapstructure:"-"`
}

// Validate checks the fields required to launch.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %s requires command", s.Name)
	}
	for i, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("process %s: env[%d] %q must be KEY=VALUE", s.Name, i, kv)
		}
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for s.Command. It avoids a shell
// unless the string contains shell metacharacters, and it does not
// double-wrap a command that already starts with "sh -c".
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell matches "sh -c <script>" style prefixes and returns the
// script with one pair of enclosing quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
