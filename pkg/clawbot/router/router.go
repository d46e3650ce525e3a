// Package router decides which skill answers a chat message.
//
// Routing order, first match wins:
//
//	learned pattern → skill detectors (registry order) → semantic match → AI chat
//
// Every success that did not come from a learned pattern is queued for
// learning in the background; the user never waits on that write.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
	"github.com/jholhewres/clawbot/pkg/clawbot/llm"
	"github.com/jholhewres/clawbot/pkg/clawbot/nlu"
	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
	"github.com/jholhewres/clawbot/pkg/clawbot/store"
)

// ChatType is the pattern type AI chat replies are learned under.
const ChatType = "chat"

// ApologyReply is sent when nothing could answer the message.
const ApologyReply = "😔 Sorry, I couldn't process that right now. Please try again in a moment."

// DeniedReply is sent to users outside the allowlist.
const DeniedReply = "You are not authorized to use this bot."

// Source tells which stage of the pipeline produced a reply.
type Source string

const (
	SourceLearned  Source = "learned"
	SourceSkill    Source = "skill"
	SourceSemantic Source = "semantic"
	SourceChat     Source = "chat"
	SourceFailed   Source = "failed"
	SourceDenied   Source = "denied"
	SourceEmpty    Source = "empty"
)

// Chatter is the AI backend as used for open-ended chat.
type Chatter interface {
	Complete(ctx context.Context, prompt string, history []llm.Message) (string, error)
}

// SemanticMatcher is the embedding fallback. *nlu.Matcher implements it.
type SemanticMatcher interface {
	Match(ctx context.Context, text string) (nlu.Match, bool)
}

// History persists exchanges and replays recent ones. *store.Store
// implements it.
type History interface {
	SaveExchange(ctx context.Context, ex store.Exchange) error
	RecentExchanges(ctx context.Context, userID string, limit int) ([]store.Exchange, error)
}

// Deps are the router's collaborators. Only Registry and Patterns are
// required.
type Deps struct {
	Registry *skills.Registry
	Patterns patterns.Repository
	AI       Chatter
	Semantic SemanticMatcher
	History  History

	// Persona returns the system prompt for AI chat.
	Persona func() string
}

// Response is the outcome of routing one message.
type Response struct {
	Text   string
	Source Source
	// Intent is the "<slug>:<label>" that answered, empty for chat.
	Intent string
}

// Router routes messages. It is safe for concurrent use.
type Router struct {
	deps    Deps
	cfg     config.RouterConfig
	access  *Access
	learner *learner
	logger  *slog.Logger
}

// New creates a router and starts its learning worker. Close stops it.
func New(cfg config.RouterConfig, access config.AccessConfig, deps Deps, logger *slog.Logger) (*Router, error) {
	if deps.Registry == nil {
		return nil, errors.New("router: skill registry is required")
	}
	if deps.Patterns == nil {
		return nil, errors.New("router: pattern store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LearnedMinConfidence <= 0 {
		cfg.LearnedMinConfidence = patterns.InitialConfidence
	}
	logger = logger.With("component", "router")

	return &Router{
		deps:    deps,
		cfg:     cfg,
		access:  NewAccess(access.AllowedUsers),
		learner: newLearner(deps.Patterns, cfg.LearningQueueSize, logger),
		logger:  logger,
	}, nil
}

// Close drains pending learning writes and stops the worker.
func (r *Router) Close() {
	r.learner.close()
}

// Route answers one message. It never returns an error: failures become an
// apology so transports always have something to send.
func (r *Router) Route(ctx context.Context, msg skills.Message) Response {
	if !r.access.Allowed(msg.UserID) {
		r.logger.Info("access denied", "user", msg.UserID, "platform", msg.Platform)
		return Response{Text: DeniedReply, Source: SourceDenied}
	}
	msg.Normalized = patterns.Normalize(msg.Text)
	if msg.Normalized == "" {
		return Response{Source: SourceEmpty}
	}

	start := time.Now()
	resp := r.route(ctx, msg)
	r.logger.Info("message routed",
		"user", msg.UserID,
		"source", resp.Source,
		"intent", resp.Intent,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if r.deps.History != nil {
		ex := store.Exchange{
			Platform: msg.Platform,
			UserID:   msg.UserID,
			UserName: msg.UserName,
			Message:  msg.Text,
			Reply:    resp.Text,
		}
		if err := r.deps.History.SaveExchange(ctx, ex); err != nil {
			r.logger.Warn("failed to save chat history", "user", msg.UserID, "error", err)
		}
	}
	return resp
}

func (r *Router) route(ctx context.Context, msg skills.Message) Response {
	// 1. Learned patterns. Never re-learned.
	if resp, ok := r.fromLearned(ctx, msg); ok {
		return resp
	}

	// 2. Skill detectors in priority order.
	failed := false
	for _, s := range r.deps.Registry.Skills() {
		in, ok := s.Detect(ctx, msg)
		if !ok {
			continue
		}
		reply, err := r.handle(ctx, s, in, msg)
		if errors.Is(err, skills.ErrDeclined) {
			continue
		}
		if err != nil {
			r.logger.Warn("skill failed, falling back to chat", "skill", s.Slug(), "error", err)
			failed = true
			break
		}
		r.learn(msg, in, reply)
		return Response{Text: reply, Source: SourceSkill, Intent: in.String()}
	}

	// 3. Semantic fallback.
	if !failed {
		if resp, ok := r.fromSemantic(ctx, msg); ok {
			return resp
		}
	}

	// 4. AI chat.
	reply, err := r.chat(ctx, msg)
	if err != nil {
		r.logger.Warn("ai chat failed", "user", msg.UserID, "error", err)
		return Response{Text: ApologyReply, Source: SourceFailed}
	}
	r.learn(msg, skills.Intent{Slug: ChatType, Label: msg.Normalized}, reply)
	return Response{Text: reply, Source: SourceChat}
}

// fromLearned resumes the best learned pattern. Chat patterns are kept for
// the /learned view only: resuming one would skip every skill detector for
// any message that happens to contain a short greeting.
func (r *Router) fromLearned(ctx context.Context, msg skills.Message) (Response, bool) {
	all, err := r.deps.Patterns.Lookup(ctx, msg.UserID)
	if err != nil {
		r.logger.Warn("learned pattern lookup failed", "user", msg.UserID, "error", err)
		return Response{}, false
	}
	candidates := all[:0:0]
	for _, p := range all {
		if p.PatternType != ChatType {
			candidates = append(candidates, p)
		}
	}

	p, ok := patterns.BestMatch(candidates, msg.Normalized, r.cfg.LearnedMinConfidence)
	if !ok {
		return Response{}, false
	}
	slug, label := skills.ParseIntent(p.DetectedIntent)
	s, ok := r.deps.Registry.Get(slug)
	if !ok {
		r.logger.Debug("learned pattern for unknown skill", "intent", p.DetectedIntent)
		return Response{}, false
	}
	in, ok := s.Resume(label, msg)
	if !ok {
		return Response{}, false
	}

	reply, err := r.handle(ctx, s, in, msg)
	if err != nil {
		if !errors.Is(err, skills.ErrDeclined) {
			r.logger.Warn("learned route failed", "intent", p.DetectedIntent, "error", err)
		}
		return Response{}, false
	}
	r.logger.Debug("learned pattern matched",
		"input", p.UserInput, "intent", p.DetectedIntent,
		"confidence", p.Confidence, "used", p.SuccessCount)
	return Response{Text: reply, Source: SourceLearned, Intent: in.String()}, true
}

// semanticLabels are the labels a semantic match resumes with, per skill.
// Skills missing here resume with an empty label.
var semanticLabels = map[string]string{
	"status":   "show",
	"briefing": "daily",
	"notes":    "list",
	"shopping": "list",
	"timer":    "list",
}

func (r *Router) fromSemantic(ctx context.Context, msg skills.Message) (Response, bool) {
	if r.deps.Semantic == nil {
		return Response{}, false
	}
	m, ok := r.deps.Semantic.Match(ctx, msg.Normalized)
	if !ok {
		return Response{}, false
	}
	s, ok := r.deps.Registry.Get(m.Intent)
	if !ok {
		return Response{}, false
	}
	in, ok := s.Resume(semanticLabels[m.Intent], msg)
	if !ok {
		return Response{}, false
	}
	reply, err := r.handle(ctx, s, in, msg)
	if err != nil {
		if !errors.Is(err, skills.ErrDeclined) {
			r.logger.Warn("semantic route failed", "intent", m.Intent, "error", err)
		}
		return Response{}, false
	}
	r.logger.Debug("semantic match", "intent", m.Intent, "score", m.Score)
	r.learn(msg, in, reply)
	return Response{Text: reply, Source: SourceSemantic, Intent: in.String()}, true
}

// handle runs a skill handler, turning a panic into an error.
func (r *Router) handle(ctx context.Context, s skills.Skill, in skills.Intent, msg skills.Message) (reply string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("skill %s panicked: %v", s.Slug(), p)
		}
	}()
	return s.Handle(ctx, in, msg)
}

func (r *Router) chat(ctx context.Context, msg skills.Message) (string, error) {
	if r.deps.AI == nil {
		return "", llm.ErrBackendUnavailable
	}

	var history []llm.Message
	if r.deps.Persona != nil {
		history = append(history, llm.Message{Role: llm.RoleSystem, Content: r.deps.Persona()})
	}
	if r.deps.History != nil && r.cfg.HistoryLimit > 0 {
		past, err := r.deps.History.RecentExchanges(ctx, msg.UserID, r.cfg.HistoryLimit)
		if err != nil {
			r.logger.Warn("failed to load chat history", "user", msg.UserID, "error", err)
		}
		for _, ex := range past {
			history = append(history,
				llm.Message{Role: llm.RoleUser, Content: ex.Message},
				llm.Message{Role: llm.RoleAssistant, Content: ex.Reply},
			)
		}
	}

	reply, err := r.deps.AI.Complete(ctx, msg.Text, history)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errors.New("empty completion")
	}
	return reply, nil
}

// learn queues a learning write when the reply looks like a success.
func (r *Router) learn(msg skills.Message, in skills.Intent, reply string) {
	if in.Transient || !Successful(reply) {
		return
	}
	r.learner.enqueue(learnItem{
		userID:      msg.UserID,
		patternType: in.Type(),
		input:       msg.Normalized,
		intent:      in.String(),
	})
}

// failureMarkers flag replies that must not be learned.
var failureMarkers = []string{
	"❌",
	"error",
	"failed",
	"not found",
	"no such file or directory",
	"permission denied",
	"access denied",
	"unknown",
}

// Successful reports whether a reply looks successful enough to learn from.
func Successful(reply string) bool {
	text := strings.ToLower(strings.TrimSpace(reply))
	if text == "" {
		return false
	}
	for _, m := range failureMarkers {
		if strings.Contains(text, m) {
			return false
		}
	}
	return true
}
