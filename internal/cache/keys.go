package cache

import (
	"strings"
	"time"
)

// Template is a cache key family with its own TTL. Keys built from the same
// template share a prefix, so the whole family can be dropped with Pattern.
type Template struct {
	Prefix string
	TTL    time.Duration
}

// Key joins the prefix and parts with ':'.
func (t Template) Key(parts ...string) string {
	if len(parts) == 0 {
		return t.Prefix
	}
	return t.Prefix + ":" + strings.Join(parts, ":")
}

// Pattern matches every key built from t, and from templates nested under it.
func (t Template) Pattern() string {
	return t.Prefix + ":*"
}

// Resource templates. TTLs reflect how often each resource changes: exam
// content is edited rarely, session state and rankings move with every
// submission.
var (
	ExamSet          = Template{Prefix: "exam-sets", TTL: time.Hour}
	ExamSetList      = Template{Prefix: "exam-sets:list", TTL: 30 * time.Minute}
	Question         = Template{Prefix: "questions", TTL: time.Hour}
	ExamSetQuestions = Template{Prefix: "questions:exam-set", TTL: time.Hour}
	Session          = Template{Prefix: "sessions", TTL: 5 * time.Minute}
	UserStats        = Template{Prefix: "user-stats", TTL: 10 * time.Minute}
	Leaderboard      = Template{Prefix: "leaderboard", TTL: 5 * time.Minute}
)

// Templates lists every resource template, for diagnostics.
var Templates = map[string]Template{
	"exam_set":           ExamSet,
	"exam_set_list":      ExamSetList,
	"question":           Question,
	"exam_set_questions": ExamSetQuestions,
	"session":            Session,
	"user_stats":         UserStats,
	"leaderboard":        Leaderboard,
}

// ResponsePrefix starts every key written by the HTTP response cache.
const ResponsePrefix = "http"

// ResponsePattern matches response-cache keys for any method on paths that
// start with pathPrefix.
func ResponsePattern(pathPrefix string) string {
	return ResponsePrefix + ":*:" + pathPrefix + "*"
}
