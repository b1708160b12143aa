package bot

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/maplenook/guildbot/internal/gemini"
	"github.com/maplenook/guildbot/internal/storage"
)

// maxMessageRunes is Discord's message length limit.
const maxMessageRunes = 2000

const (
	msgNoGemini    = "抱歉，我目前無法連線到 Gemini API。"
	msgGenerateErr = "處理請求時發生了錯誤："
	msgRateLimited = "你傳送訊息的速度太快了，請稍後再試。"
)

func (b *Bot) onMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	self := b.selfID()
	if m.Author.ID == self {
		return
	}

	if self != "" && (mentions(m.Message, self) || repliesTo(m.Message, self)) {
		b.chat(m.Message, self)
		return
	}

	b.handlePrefixCommand(m.Message)
}

func mentions(m *discordgo.Message, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

func repliesTo(m *discordgo.Message, userID string) bool {
	ref := m.ReferencedMessage
	return ref != nil && ref.Author != nil && ref.Author.ID == userID
}

// chat forwards a message to Gemini and posts the reply in the same channel.
func (b *Bot) chat(m *discordgo.Message, botID string) {
	log := b.logger.With("user_id", m.Author.ID, "channel_id", m.ChannelID)

	if !b.limiter.allow(m.Author.ID) {
		log.Info("chat rate limited")
		b.send(m.ChannelID, msgRateLimited)
		return
	}

	if b.cfg.Generator == nil {
		b.send(m.ChannelID, msgNoGemini)
		return
	}

	prompt := b.cfg.Prompter.Prepare(m.Content, botID)
	rec := storage.Interaction{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Prompt:    prompt,
		Model:     b.cfg.Model,
		Status:    "completed",
	}
	if prompt == gemini.EmptyInput {
		rec.Status = "filtered"
	}

	if err := b.s.ChannelTyping(m.ChannelID); err != nil {
		log.Debug("error sending typing indicator", tint.Err(err))
	}

	ctx, cancel := context.WithTimeout(b.baseContext(), defaultGenerateTimeout)
	defer cancel()

	reply, err := b.cfg.Generator.Generate(ctx, b.cfg.Prompter.Request(prompt))
	if err != nil {
		log.Error("error generating reply", "interaction_id", rec.ID, tint.Err(err))
		rec.Status = "failed"
		rec.Error = err.Error()
		b.send(m.ChannelID, msgGenerateErr+err.Error())
		b.logInteraction(rec)
		return
	}

	rec.Response = reply
	for _, chunk := range splitMessage(reply, maxMessageRunes) {
		b.send(m.ChannelID, chunk)
	}
	b.logInteraction(rec)
}

func (b *Bot) logInteraction(rec storage.Interaction) {
	if b.cfg.Interactions == nil {
		return
	}
	if err := b.cfg.Interactions.SaveInteraction(rec); err != nil {
		b.logger.Warn("error saving interaction", "interaction_id", rec.ID, tint.Err(err))
	}
}

// splitMessage cuts s into chunks of at most limit runes, preferring to break
// after a newline. Blank input yields no chunks.
func splitMessage(s string, limit int) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var chunks []string
	for utf8.RuneCountInString(s) > limit {
		cut := byteOffset(s, limit)
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

// userLimiter holds one token bucket per user. A nil limiter allows
// everything.
type userLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &userLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
