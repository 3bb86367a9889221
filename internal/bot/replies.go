package bot

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

//go:embed replies.yaml
var defaultReplies []byte

const footerKey = "footer"

// Reply names the engine renders. A catalogue missing any of them is rejected.
const (
	replyWelcome          = "welcome"
	replyVIP              = "vip"
	replyZArchiver        = "zarchiver_start"
	replyHelp             = "help"
	replyCommands         = "commands"
	replyPing             = "ping"
	replyInfo             = "info"
	replyDev              = "dev"
	replyHistoryEmpty     = "history_empty"
	replyHistory          = "history"
	replyAdmin            = "admin"
	replyStats            = "stats"
	replyDBUnavailable    = "db_unavailable"
	replyBroadcastStarted = "broadcast_started"
	replyBroadcastDone    = "broadcast_done"
	replyBroadcastMessage = "broadcast_message"
	replyBlocked          = "blocked"
	replyUnblocked        = "unblocked"
	replyUnblockFailed    = "unblock_failed"
	replyResults          = "results"
	replyNoResults        = "no_results"
	replyNoResultsRetry   = "no_results_retry"
	replySearchFailed     = "search_failed"
	replyBadApp           = "bad_app"
	replyAppInfo          = "app_info"
	replyOversize         = "oversize"
	replyXAPKTutorial     = "xapk_tutorial"
	replyFollowUp         = "follow_up"
	replyDownloadFailed   = "download_failed"
	replyGenericError     = "generic_error"
	replyWait             = "wait"
	replyBurstBan         = "burst_ban"
	replyHourlyBan        = "hourly_ban"
	replyCallBan          = "call_ban"
)

var requiredReplies = []string{
	replyWelcome, replyVIP, replyZArchiver, replyHelp, replyCommands, replyPing,
	replyInfo, replyDev, replyHistoryEmpty, replyHistory, replyAdmin, replyStats,
	replyDBUnavailable, replyBroadcastStarted, replyBroadcastDone, replyBroadcastMessage,
	replyBlocked, replyUnblocked, replyUnblockFailed, replyResults, replyNoResults,
	replyNoResultsRetry, replySearchFailed, replyBadApp, replyAppInfo, replyOversize,
	replyXAPKTutorial, replyFollowUp, replyDownloadFailed, replyGenericError, replyWait,
	replyBurstBan, replyHourlyBan, replyCallBan,
}

var numberEmojis = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// Vars are the values shared by every reply.
type Vars struct {
	Instagram string
	Version   string
}

// Replies renders the bot's user-facing texts.
type Replies struct {
	templates map[string]*template.Template
	footer    string
}

// DefaultReplies loads the built-in catalogue.
func DefaultReplies(vars Vars) (*Replies, error) {
	return ParseReplies(defaultReplies, vars)
}

// LoadReplies reads a catalogue from a YAML file.
func LoadReplies(path string, vars Vars) (*Replies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replies: %w", err)
	}
	return ParseReplies(data, vars)
}

// ParseReplies parses a YAML catalogue of name to template text.
func ParseReplies(data []byte, vars Vars) (*Replies, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse replies: %w", err)
	}

	funcs := template.FuncMap{
		"instagram": func() string { return vars.Instagram },
		"version":   func() string { return vars.Version },
		"upper":     strings.ToUpper,
		"size":      FormatSize,
		"gb":        func(n int64) string { return fmt.Sprintf("%.2f", float64(n)/(1<<30)) },
		"comma":     humanize.Comma,
		"inc":       func(i int) int { return i + 1 },
		"listEmoji": ListEmoji,
	}

	r := &Replies{templates: make(map[string]*template.Template, len(raw)), footer: raw[footerKey]}
	for name, text := range raw {
		if name == footerKey {
			continue
		}
		t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse reply %q: %w", name, err)
		}
		r.templates[name] = t
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate reports missing replies.
func (r *Replies) Validate() error {
	var missing []string
	for _, name := range requiredReplies {
		if _, ok := r.templates[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("replies missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render executes the named reply with data and appends the footer.
func (r *Replies) Render(name string, data any) (string, error) {
	t, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown reply %q", name)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render reply %q: %w", name, err)
	}
	b.WriteString(r.footer)
	return b.String(), nil
}

// FormatSize renders a byte count the way the size caption shows it.
func FormatSize(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case n >= gib:
		return fmt.Sprintf("%.2f GB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.1f MB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.1f KB", float64(n)/kib)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// ListEmoji labels the 1-based result index in a result list.
func ListEmoji(index int) string {
	if index >= 1 && index <= len(numberEmojis) {
		return numberEmojis[index-1]
	}
	return fmt.Sprintf("%d→", index)
}

// reactionEmoji is the reaction put on a pick; entries outside the keycap
// range get a phone.
func reactionEmoji(index int) string {
	if index >= 1 && index <= len(numberEmojis) {
		return numberEmojis[index-1]
	}
	return "📱"
}
