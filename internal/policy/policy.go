// Package policy classifies shell and git commands as allowed or denied.
//
// The denylist is checked first and always wins. A command that clears the
// denylist must then match the allowlist in every chained segment; anything
// else is denied by default.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

type rule struct {
	re     *regexp.Regexp
	reason string
}

// denyRules are matched against the whole command line.
var denyRules = []rule{
	{regexp.MustCompile(`\brm\s+(?:-\S+\s+)*(?:/\*?|~/?\*?|\$\{?HOME\}?/?\*?|\.\./?\S*)(?:\s|$)`), "recursive delete of root, home or parent directory"},
	{regexp.MustCompile(`\bdd\b[^;&|]*\bof=/dev/`), "raw write to a device"},
	{regexp.MustCompile(`>\s*/dev/(?:sd|hd|nvme|xvd|vd|disk|mmcblk)`), "redirect into a block device"},
	{regexp.MustCompile(`\bmkfs(?:\.\w+)?\b`), "filesystem formatting"},
	{regexp.MustCompile(`\b(?:fdisk|sfdisk|parted|wipefs)\b`), "disk partitioning"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`\b(?:curl|wget)\b[^;&]*\|\s*(?:sudo\s+)?(?:ba|z|da|k)?sh\b`), "piping a remote script into a shell"},
	{regexp.MustCompile(`\b(?:curl|wget)\b[^;&]*\|\s*(?:python3?|perl|ruby|node)\b`), "piping a remote script into an interpreter"},
	{regexp.MustCompile(`(?:^|[\s;&|(])(?:sudo|su|doas|pkexec)(?:\s|$)`), "privilege escalation"},
	{regexp.MustCompile(`\bchmod\s+(?:-\S+\s+)*[0-7]*777\s+/(?:\s|$)`), "world-writable root"},
	{regexp.MustCompile(`\b(?:chmod|chown|chgrp)\b[^;&|]*\s/(?:etc|usr|bin|sbin|lib|lib64|boot|var|root|sys|proc)?(?:\s|/|$)`), "ownership or mode change on system paths"},
	{regexp.MustCompile(`\b(?:export|unset)\s+(?:PATH|HOME|SHELL|USER|LD_\w+)\b`), "environment tampering"},
	{regexp.MustCompile(`(?:^|[\s;&|])(?:PATH|LD_PRELOAD|LD_LIBRARY_PATH)=`), "environment tampering"},
	{regexp.MustCompile(`(?:^|[\s;&|])env\s+(?:-\S+\s+)*\w+=`), "environment tampering"},
	{regexp.MustCompile(`(?:~|\$\{?HOME\}?)/\.(?:ssh|aws|gnupg|kube|docker|config/gcloud)\b`), "credential access"},
	{regexp.MustCompile(`\.aws/credentials|\.ssh/(?:id_|authorized_keys)`), "credential access"},
	{regexp.MustCompile(`(?:>|\btee\s+(?:-a\s+)?)\s*/etc/`), "write to /etc"},
	{regexp.MustCompile(`/etc/(?:passwd|shadow|sudoers|gshadow)`), "system credential files"},
	{regexp.MustCompile(`(?:^|[;&|(]\s*)(?:kill|pkill|killall|xkill)(?:\s|$)`), "process control"},
	{regexp.MustCompile(`(?:^|[;&|(]\s*)(?:systemctl|service|shutdown|reboot|halt|poweroff|launchctl|crontab)(?:\s|$)`), "service or system control"},
	{regexp.MustCompile(`/dev/(?:tcp|udp)/`), "raw network socket"},
	{regexp.MustCompile("\\$\\(|`"), "command substitution"},
	{regexp.MustCompile(`(?:;|&&|\|\||\||&)\s*(?:rm\s+-\S*[rRf]|eval|exec|source)\b`), "chaining into a blocked command"},
	{regexp.MustCompile(`(?:^|[;&|]\s*)(?:eval|exec)\b`), "eval or exec"},
}

// allowRules are matched against each chained segment after leading
// environment assignments are stripped.
var allowRules = []rule{
	{regexp.MustCompile(`^(?:npm|npx|pnpm|yarn|bun|pip3?|pipx|poetry|uv|cargo|go|gem|bundle|composer|mvn|gradle|dotnet|deno)(?:\s|$)`), "package manager"},
	{regexp.MustCompile(`^(?:make|cmake|ninja|bazel|meson|just)(?:\s|$)`), "build tool"},
	{regexp.MustCompile(`^(?:gcc|g\+\+|cc|clang|clang\+\+|rustc|javac|java|tsc|node|python3?|ruby|perl|php|swift|kotlinc|lua|Rscript)(?:\s|$)`), "compiler or interpreter"},
	{regexp.MustCompile(`^(?:ls|cat|head|tail|wc|find|grep|egrep|fgrep|rg|tree|stat|file|du|df|diff|cmp|sort|uniq|cut|awk|sed|tr|md5sum|sha1sum|sha256sum|realpath|basename|dirname|readlink|jq|yq)(?:\s|$)`), "read-only inspection"},
	{regexp.MustCompile(`^(?:mkdir|touch|cp|mv|rm|rmdir|ln|chmod|tar|zip|unzip|gzip|gunzip)(?:\s|$)`), "workspace file operation"},
	{regexp.MustCompile(`^(?:pytest|jest|vitest|mocha|phpunit|rspec|tox|nox|ctest)(?:\s|$)`), "test runner"},
	{regexp.MustCompile(`^(?:eslint|prettier|black|ruff|flake8|pylint|mypy|isort|gofmt|goimports|golangci-lint|rustfmt|shellcheck|stylelint|clang-format)(?:\s|$)`), "linter or formatter"},
	{regexp.MustCompile(`^(?:echo|printf|pwd|whoami|date|uname|which|type|printenv|true|false|test|\[|sleep|hostname|id|cd)(?:\s|$)`), "informational"},
}

var (
	assignmentPrefix = regexp.MustCompile(`^(?:[A-Za-z_][A-Za-z0-9_]*=\S*\s+)+`)
	gitMetachars     = regexp.MustCompile("[;&|`$<>\\n\\\\]")
	redirectPrefix   = regexp.MustCompile(`^(?:\d*|&)>>?|^<`)
	repeatedSlashes  = regexp.MustCompile(`/{2,}`)
	trailingDotSlash = regexp.MustCompile(`/\.(/|\s|$)`)
)

// pathCommands operate on workspace files and must name paths inside it.
var pathCommands = map[string]struct{}{
	"mkdir": {}, "touch": {}, "cp": {}, "mv": {}, "rm": {}, "rmdir": {},
	"ln": {}, "chmod": {}, "tar": {}, "zip": {}, "unzip": {}, "gzip": {}, "gunzip": {},
}

// findActions are find primaries that modify files or run commands.
var findActions = map[string]struct{}{
	"-delete": {}, "-exec": {}, "-execdir": {}, "-ok": {}, "-okdir": {},
	"-fprint": {}, "-fprint0": {}, "-fprintf": {}, "-fls": {},
}

// gitSubcommands is the set of git subcommands that may be run.
var gitSubcommands = map[string]struct{}{
	"status": {}, "add": {}, "commit": {}, "push": {}, "pull": {}, "fetch": {},
	"diff": {}, "log": {}, "show": {}, "branch": {}, "checkout": {}, "switch": {},
	"merge": {}, "rebase": {}, "stash": {}, "init": {}, "clone": {}, "remote": {},
	"tag": {}, "rev-parse": {}, "ls-files": {}, "blame": {}, "reset": {},
	"restore": {}, "mv": {}, "rm": {}, "cherry-pick": {}, "describe": {},
	"shortlog": {}, "reflog": {},
}

// Policy holds the compiled rule tables. A Policy is immutable and safe for
// concurrent use.
type Policy struct {
	extra []rule
}

// New returns a Policy whose allowlist is extended by extraAllow regular
// expressions. The denylist cannot be extended or relaxed.
func New(extraAllow []string) (*Policy, error) {
	p := &Policy{}
	for _, expr := range extraAllow {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling allow pattern %q: %w", expr, err)
		}
		p.extra = append(p.extra, rule{re: re, reason: "configured allow pattern"})
	}
	return p, nil
}

// Default returns a Policy with only the built-in tables.
func Default() *Policy {
	return &Policy{}
}

// Check classifies a full shell command line.
func (p *Policy) Check(command string) Decision {
	command = strings.TrimSpace(command)
	if command == "" {
		return deny("empty command")
	}

	normalized := normalize(command)
	for _, r := range denyRules {
		if r.re.MatchString(command) || r.re.MatchString(normalized) {
			return deny("blocked pattern: %s", r.reason)
		}
	}

	segments := splitSegments(command)
	if len(segments) == 0 {
		return deny("empty command")
	}

	var reason string
	for _, seg := range segments {
		seg = assignmentPrefix.ReplaceAllString(seg, "")
		if seg == "" {
			continue
		}
		d := p.checkSegment(seg)
		if !d.Allowed {
			return d
		}
		reason = d.Reason
	}
	if reason == "" {
		return deny("empty command")
	}
	return allow(reason)
}

func (p *Policy) checkSegment(seg string) Decision {
	if rest, ok := strings.CutPrefix(seg, "git "); ok {
		return p.CheckGit(rest)
	}
	if seg == "git" {
		return deny("git requires a subcommand")
	}
	if d, checked := checkArguments(seg); checked {
		return d
	}
	for _, r := range allowRules {
		if r.re.MatchString(seg) {
			return allow(r.reason)
		}
	}
	for _, r := range p.extra {
		if r.re.MatchString(seg) {
			return allow(r.reason)
		}
	}
	return deny("%q is not in the allowlist (default deny)", firstWord(seg))
}

// checkArguments applies per-command argument rules. It reports checked=false
// when the segment should fall through to the allowlist.
func checkArguments(seg string) (Decision, bool) {
	args := shellFields(seg)
	if len(args) == 0 {
		return Decision{}, false
	}
	name, rest := args[0], args[1:]

	switch name {
	case "find":
		for _, a := range rest {
			if _, ok := findActions[a]; ok {
				return deny("find %s is not allowed", a), true
			}
		}
	case "sed":
		for _, a := range rest {
			if a == "--in-place" || strings.HasPrefix(a, "--in-place=") || isShortFlagWith(a, 'i') {
				return deny("sed in-place editing is not allowed; use write_file"), true
			}
		}
	}

	if _, ok := pathCommands[name]; !ok {
		return Decision{}, false
	}
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		if redirectPrefix.MatchString(a) {
			target := redirectPrefix.ReplaceAllString(a, "")
			if target == "" && i+1 < len(rest) {
				i++
				target = rest[i]
			}
			if target == "/dev/null" || strings.HasPrefix(target, "&") {
				continue
			}
			a = target
		} else if strings.HasPrefix(a, "-") {
			_, value, ok := strings.Cut(a, "=")
			if !ok {
				continue
			}
			a = value
		}
		if reason := outsideWorkspace(a); reason != "" {
			return deny("%s: %s", name, reason), true
		}
		if name == "rm" || name == "rmdir" {
			switch strings.TrimSuffix(a, "/") {
			case ".", "*", "./*", ".*":
				return deny("%s of the workspace root is not allowed", name), true
			}
		}
	}
	return Decision{}, false
}

// outsideWorkspace returns a non-empty reason when path may point outside the
// workspace.
func outsideWorkspace(path string) string {
	switch {
	case strings.HasPrefix(path, "/"):
		return fmt.Sprintf("absolute path %q is outside the workspace", path)
	case strings.HasPrefix(path, "~"), strings.HasPrefix(path, "$"):
		return fmt.Sprintf("path %q may point outside the workspace", path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Sprintf("path %q leaves the workspace", path)
		}
	}
	return ""
}

// normalize removes quoting and collapses equivalent spellings of a path so
// that the denylist sees "/" for "'/'", "//" and "/.".
func normalize(command string) string {
	var b strings.Builder
	for i := 0; i < len(command); i++ {
		switch c := command[i]; c {
		case '\'', '"':
		case '\\':
			if i+1 < len(command) {
				i++
				b.WriteByte(command[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	out := repeatedSlashes.ReplaceAllString(b.String(), "/")
	for trailingDotSlash.MatchString(out) {
		out = trailingDotSlash.ReplaceAllString(out, "/$1")
		out = repeatedSlashes.ReplaceAllString(out, "/")
	}
	return out
}

// shellFields splits a segment into words, removing quotes and backslash
// escapes. It does not expand anything.
func shellFields(seg string) []string {
	var (
		fields []string
		cur    strings.Builder
		quote  byte
		inWord bool
	)
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				continue
			}
			if c == '\\' && quote == '"' && i+1 < len(seg) {
				i++
				c = seg[i]
			}
			cur.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\':
			if i+1 < len(seg) {
				i++
				cur.WriteByte(seg[i])
				inWord = true
			}
		case c == ' ' || c == '\t':
			if inWord {
				fields = append(fields, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if inWord {
		fields = append(fields, cur.String())
	}
	return fields
}

// CheckGit classifies the arguments of a git invocation (without the leading
// "git").
func (p *Policy) CheckGit(args string) Decision {
	args = strings.TrimSpace(args)
	if args == "" {
		return deny("git requires a subcommand")
	}
	if gitMetachars.MatchString(args) {
		return deny("shell metacharacters are not allowed in git arguments")
	}

	fields := strings.Fields(args)
	sub := fields[0]
	if strings.HasPrefix(sub, "-") {
		return deny("git options before the subcommand are not allowed")
	}
	if _, ok := gitSubcommands[sub]; !ok {
		return deny("git subcommand %q is not allowed", sub)
	}

	rest := fields[1:]
	switch sub {
	case "push":
		for _, a := range rest {
			if a == "--force" || a == "-f" || isShortFlagWith(a, 'f') || strings.HasPrefix(a, "+") {
				return deny("force push must use --force-with-lease")
			}
		}
	case "reset":
		for _, a := range rest {
			if a == "--hard" {
				return deny("git reset --hard is not allowed")
			}
		}
	case "rm":
		recursive := false
		for _, a := range rest {
			if a == "-r" || isShortFlagWith(a, 'r') {
				recursive = true
			}
		}
		if recursive {
			for _, a := range rest {
				if a == "." || a == "/" || a == "*" || a == ":/" {
					return deny("recursive git rm of the repository root is not allowed")
				}
			}
		}
	}

	return allow("git " + sub)
}

// isShortFlagWith reports whether a is a bundle of short flags such as "-fu"
// that includes c.
func isShortFlagWith(a string, c byte) bool {
	if len(a) < 2 || a[0] != '-' || a[1] == '-' {
		return false
	}
	return strings.IndexByte(a[1:], c) >= 0
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

// splitSegments splits a command line on ;, &&, ||, |, & and newlines,
// honouring single and double quotes. Redirections like 2>&1 and &> are kept
// intact.
func splitSegments(cmd string) []string {
	var (
		segments []string
		cur      strings.Builder
		quote    byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			cur.WriteByte(c)
		case ';', '\n', '|':
			flush()
			if c == '|' && i+1 < len(cmd) && cmd[i+1] == '|' {
				i++
			}
		case '&':
			prevRedirect := i > 0 && cmd[i-1] == '>'
			nextRedirect := i+1 < len(cmd) && cmd[i+1] == '>'
			if prevRedirect || nextRedirect {
				cur.WriteByte(c)
				continue
			}
			flush()
			if i+1 < len(cmd) && cmd[i+1] == '&' {
				i++
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segments
}
