// Package errs classifies the error kinds named in the design: a single
// fatal kind (Config) and a handful of non-fatal kinds that carry enough
// context for the log handler to narrate them without halting any loop.
package errs

import "fmt"

// Kind distinguishes how a caller should react to an error.
type Kind int

const (
	// KindConfig is fatal at startup.
	KindConfig Kind = iota
	// KindUpstreamTransient is retried; callers should update outage
	// accounting and keep polling.
	KindUpstreamTransient
	// KindUpstreamReject carries the upstream's rejection body back to
	// the miner verbatim.
	KindUpstreamReject
	// KindProtocolParse is logged and dropped.
	KindProtocolParse
	// KindMinerRequestInvalid is returned to the miner as structured
	// failure JSON.
	KindMinerRequestInvalid
	// KindInternalLookupMiss covers the rare "cannot match nonce to
	// chain" case.
	KindInternalLookupMiss
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindUpstreamReject:
		return "upstream_reject"
	case KindProtocolParse:
		return "protocol_parse"
	case KindMinerRequestInvalid:
		return "miner_request_invalid"
	case KindInternalLookupMiss:
		return "internal_lookup_miss"
	default:
		return "unknown"
	}
}

// E is the module's single error type. Chain/height/account are optional
// context fields filled in by whichever layer detected the problem.
type E struct {
	Kind    Kind
	Chain   string
	Height  uint64
	Account uint64
	Msg     string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *E) Unwrap() error { return e.Err }

// Fatal reports whether the process should stop rather than continue.
func (e *E) Fatal() bool { return e.Kind == KindConfig }

func Config(msg string, args ...interface{}) *E {
	return &E{Kind: KindConfig, Msg: fmt.Sprintf(msg, args...)}
}

func UpstreamTransient(chain string, err error) *E {
	return &E{Kind: KindUpstreamTransient, Chain: chain, Msg: "upstream request failed", Err: err}
}

func UpstreamReject(chain string, height uint64, body string) *E {
	return &E{Kind: KindUpstreamReject, Chain: chain, Height: height, Msg: body}
}

func ProtocolParse(chain string, err error) *E {
	return &E{Kind: KindProtocolParse, Chain: chain, Msg: "could not parse upstream frame", Err: err}
}

func MinerRequestInvalid(msg string) *E {
	return &E{Kind: KindMinerRequestInvalid, Msg: msg}
}

func InternalLookupMiss(height uint64) *E {
	return &E{Kind: KindInternalLookupMiss, Height: height, Msg: "cannot match nonce to chain"}
}
