package worker

import "strings"

// Default placeholder tokens. Templates can be overridden from
// configuration without programmatic substitution because the server
// only ever does literal token replacement -- never text/template
// evaluation -- against whatever template string configuration
// supplies.
const (
	URLPlaceholder     = "__url__"
	IDPlaceholder       = "__id__"
	AddressPlaceholder = "__address__"
	PayloadPlaceholder = "__payload__"
)

// RunTemplates bundles the code fragments every run snippet is
// assembled from: optional before/after code and the callback snippet.
type RunTemplates struct {
	BeforeRun        string
	AfterRun         string
	CallbackTemplate string // placeholders: __url__, __id__
}

// DefaultCallbackTemplate posts the completed request's id to the
// server's callback endpoint. It is written as a fragment the
// interpreter bootstrap is expected to understand rather than a
// specific language's syntax.
const DefaultCallbackTemplate = `__notebookd_callback__("__url__", "__id__")`

// ComposeRun builds the program fragment written to a worker's command
// channel for a RunCell command: optional before_run code, the cell's
// code, optional after_run code, then the callback snippet with its
// placeholders substituted.
func ComposeRun(code string, t RunTemplates, callbackURL, requestID string) string {
	var b strings.Builder
	if t.BeforeRun != "" {
		b.WriteString(t.BeforeRun)
		b.WriteString("\n")
	}
	b.WriteString(code)
	if t.AfterRun != "" {
		b.WriteString("\n")
		b.WriteString(t.AfterRun)
	}
	b.WriteString("\n")
	b.WriteString(renderCallback(t.CallbackTemplate, callbackURL, requestID))
	b.WriteString("\n")
	return b.String()
}

func renderCallback(tmpl, callbackURL, requestID string) string {
	if tmpl == "" {
		tmpl = DefaultCallbackTemplate
	}
	r := strings.NewReplacer(URLPlaceholder, callbackURL, IDPlaceholder, requestID)
	return r.Replace(tmpl)
}

// DefaultForkTemplate spawns a child interpreter that dials the
// rendezvous address and hands control to it -- run inside the
// *parent* interpreter.
const DefaultForkTemplate = `__notebookd_fork__("__address__")`

// ComposeFork builds the program fragment written to the parent
// worker's command channel for a ForkCell command, substituting the
// rendezvous address into the fork-address placeholder.
func ComposeFork(tmpl, rendezvousAddr string) string {
	if tmpl == "" {
		tmpl = DefaultForkTemplate
	}
	r := strings.NewReplacer(AddressPlaceholder, rendezvousAddr)
	return r.Replace(tmpl) + "\n"
}

// SidechannelTemplates bundles the optional sidechannel snippet
// placeholders. No built-in consumer reads this snippet; it exists so
// the configuration surface can still accept and template one for
// bootstrap scripts that want it.
type SidechannelTemplates struct {
	Template string // placeholders: __url__, __payload__
}

// ComposeSidechannel renders the optional sidechannel snippet.
func ComposeSidechannel(t SidechannelTemplates, sidechannelURL, payload string) string {
	if t.Template == "" {
		return ""
	}
	r := strings.NewReplacer(URLPlaceholder, sidechannelURL, PayloadPlaceholder, payload)
	return r.Replace(t.Template) + "\n"
}
