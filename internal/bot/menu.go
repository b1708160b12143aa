package bot

import (
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"

	"github.com/maplenook/guildbot/internal/boss"
)

const (
	msgBossNoData    = "❌ 找不到 Boss 資料！"
	msgPickChapter   = "請選擇章節："
	msgPickBoss      = "請選擇 Boss："
	msgResult        = "✅ 查詢結果："
	msgNotOwner      = "這個選單只能由發起指令的使用者操作。"
	msgMenuExpired   = "選單已超時，無法再操作。"
	msgEmptyChapters = "這個章節範圍沒有 Boss 資料，請重新選擇章節："

	// maxSelectOptions is Discord's per-select option limit.
	maxSelectOptions = 25

	menuPrefix  = "boss"
	kindChapter = "chapter"
	kindBoss    = "pick"
)

// menu is one /info boss selection flow, owned by the user who ran the
// command.
type menu struct {
	id      string
	owner   string
	catalog *boss.Catalog
	// origin is the command interaction whose response holds the menu.
	origin     *discordgo.Interaction
	components []discordgo.MessageComponent
	timer      *time.Timer
}

type menuRegistry struct {
	mu    sync.Mutex
	menus map[string]*menu
}

func newMenuRegistry() *menuRegistry {
	return &menuRegistry{menus: make(map[string]*menu)}
}

// add registers m and starts its timeout.
func (r *menuRegistry) add(m *menu, timeout time.Duration, expire func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.menus[m.id] = m
	m.timer = time.AfterFunc(timeout, func() { expire(m.id) })
}

func (r *menuRegistry) get(id string) (*menu, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.menus[id]
	return m, ok
}

// touch records the components now shown and restarts the timeout.
func (r *menuRegistry) touch(id string, components []discordgo.MessageComponent, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.menus[id]; ok {
		m.components = components
		if m.timer != nil {
			m.timer.Reset(timeout)
		}
	}
}

// remove deletes the menu and stops its timer. It returns nil if the menu
// already completed or expired.
func (r *menuRegistry) remove(id string) *menu {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.menus[id]
	if !ok {
		return nil
	}
	delete(r.menus, id)
	if m.timer != nil {
		m.timer.Stop()
	}
	return m
}

func (r *menuRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.menus {
		if m.timer != nil {
			m.timer.Stop()
		}
		delete(r.menus, id)
	}
}

func (r *menuRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.menus)
}

func customID(kind, menuID, owner string) string {
	return strings.Join([]string{menuPrefix, kind, menuID, owner}, ":")
}

func parseCustomID(id string) (kind, menuID, owner string, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 4 || parts[0] != menuPrefix {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

func (b *Bot) handleBossCommand(i *discordgo.Interaction) {
	user := interactionUser(i)
	if user == nil {
		return
	}

	catalog, err := boss.Load(b.cfg.BossFile)
	if err != nil {
		b.logger.Warn("boss catalog unavailable", "path", b.cfg.BossFile, tint.Err(err))
		b.respondEphemeral(i, msgBossNoData)
		return
	}

	m := &menu{
		id:      uuid.NewString(),
		owner:   user.ID,
		catalog: catalog,
		origin:  i,
	}
	m.components = chapterComponents(m.id, m.owner)
	b.menus.add(m, b.menuTimeout, b.expireMenu)

	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    msgPickChapter,
			Components: m.components,
		},
	})
}

func (b *Bot) handleMenu(i *discordgo.Interaction) {
	data := i.MessageComponentData()
	kind, menuID, owner, ok := parseCustomID(data.CustomID)
	if !ok {
		return
	}

	user := interactionUser(i)
	if user == nil || user.ID != owner {
		b.respondEphemeral(i, msgNotOwner)
		return
	}

	m, ok := b.menus.get(menuID)
	if !ok {
		b.respondEphemeral(i, msgMenuExpired)
		return
	}
	if len(data.Values) == 0 {
		return
	}

	switch kind {
	case kindChapter:
		b.pickChapter(i, m, data.Values[0])
	case kindBoss:
		b.pickBoss(i, m, data.Values[0])
	}
}

func (b *Bot) pickChapter(i *discordgo.Interaction, m *menu, value string) {
	r, err := boss.ParseRange(value)
	if err != nil {
		b.logger.Warn("invalid chapter selection", "value", value, tint.Err(err))
		return
	}

	content := msgPickBoss
	components := bossComponents(m.id, m.owner, m.catalog.InChapters(r.Lo, r.Hi))
	if components == nil {
		content = msgEmptyChapters
		components = chapterComponents(m.id, m.owner)
	}
	b.menus.touch(m.id, components, b.menuTimeout)

	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
		},
	})
}

func (b *Bot) pickBoss(i *discordgo.Interaction, m *menu, name string) {
	found, ok := m.catalog.ByName(name)
	if !ok {
		b.respondEphemeral(i, msgBossNoData)
		return
	}
	b.menus.remove(m.id)

	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    msgResult,
			Embeds:     []*discordgo.MessageEmbed{BossEmbed(found)},
			Components: []discordgo.MessageComponent{},
		},
	})
}

// expireMenu disables the menu's components in place.
func (b *Bot) expireMenu(id string) {
	m := b.menus.remove(id)
	if m == nil {
		return
	}

	content := msgMenuExpired
	b.menus.mu.Lock()
	components := disableComponents(m.components)
	b.menus.mu.Unlock()
	if _, err := b.s.InteractionResponseEdit(m.origin, &discordgo.WebhookEdit{
		Content:    &content,
		Components: &components,
	}); err != nil {
		b.logger.Warn("error expiring menu", "menu_id", id, tint.Err(err))
	}
}

func chapterComponents(menuID, owner string) []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(boss.ChapterRanges))
	for _, r := range boss.ChapterRanges {
		options = append(options, discordgo.SelectMenuOption{
			Label: r.Label(),
			Value: r.Value(),
		})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    customID(kindChapter, menuID, owner),
				Placeholder: "選擇章節範圍...",
				Options:     options,
			},
		}},
	}
}

// bossComponents builds the boss select, or nil when bosses is empty.
// Bosses past Discord's option limit and repeated names are left out.
func bossComponents(menuID, owner string, bosses []boss.Boss) []discordgo.MessageComponent {
	seen := make(map[string]bool)
	var options []discordgo.SelectMenuOption
	for _, bs := range bosses {
		if len(options) == maxSelectOptions {
			break
		}
		if seen[bs.Name] {
			continue
		}
		seen[bs.Name] = true
		options = append(options, discordgo.SelectMenuOption{
			Label:       bs.No + ". " + bs.Name,
			Description: bossOptionDescription(bs),
			Value:       bs.Name,
		})
	}
	if len(options) == 0 {
		return nil
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    customID(kindBoss, menuID, owner),
				Placeholder: "選擇 Boss...",
				Options:     options,
			},
		}},
	}
}

func disableComponents(in []discordgo.MessageComponent) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(in))
	for _, c := range in {
		switch v := c.(type) {
		case discordgo.ActionsRow:
			v.Components = disableComponents(v.Components)
			out = append(out, v)
		case discordgo.SelectMenu:
			v.Disabled = true
			out = append(out, v)
		case discordgo.Button:
			v.Disabled = true
			out = append(out, v)
		default:
			out = append(out, c)
		}
	}
	return out
}
