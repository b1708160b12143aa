package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/maplenook/guildbot/internal/boss"
)

const (
	embedColor = 0x9b59b6
	// blank renders an empty embed name or value; Discord rejects "".
	blank = "\u200b"
)

const difficultyFooter = "✧*。 難度倍率 Difficulty 。*✧\n" +
	"EASY = 0.1 x 防禦 | 迴避\n" +
	"NORMAL = 1 x 防禦 | 迴避\n" +
	"HARD = 2 x 防禦 | 迴避\n" +
	"NIGHTMARE = 4 x 防禦 | 迴避\n" +
	"ULTIMATE = 6 x 防禦 | 迴避"

func bossOptionDescription(b boss.Boss) string {
	return fmt.Sprintf("第%d章 %s (%s)", b.Chapter, b.Name, b.English)
}

// BossEmbed renders a boss's stat sheet.
func BossEmbed(b boss.Boss) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s. 主線王：%s ( %s ) 的資訊", b.No, b.Name, b.English),
		Color: embedColor,
		Description: fmt.Sprintf(":cherry_blossom: 章節 : %d\n:cherry_blossom: 地點: %s\n:cherry_blossom: 需要主線嗎: %s",
			b.Chapter, b.Location, b.MainQuest),
		Footer: &discordgo.MessageEmbedFooter{Text: difficultyFooter},
	}

	field := func(name, value string, inline bool) {
		if value == "" {
			value = "-"
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline})
	}
	spacer := func() {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: blank, Value: blank})
	}
	optional := func(name, value string) {
		if value == "" {
			return
		}
		field(name, value, false)
		spacer()
	}

	field(":maple_leaf: 等級 :maple_leaf:", b.Level, false)
	field(":maple_leaf: 屬性 :maple_leaf:", b.Element, false)
	spacer()
	field("物防 P.Def", b.PDef, true)
	field("魔防 M.Def", b.MDef, true)
	field("物理抗性 P.Res", b.PRes, true)
	spacer()
	field("魔法抗性 M.Res", b.MRes, true)
	field("迴避 Flee", b.Flee, true)
	field("抗暴 Crt.Res", b.CritRes, true)
	spacer()
	field(":maple_leaf: 慣性變動率 Proration :maple_leaf:", b.Proration, false)
	spacer()
	optional(":maple_leaf: 控制 FTS :maple_leaf:", b.Control)
	optional(":maple_leaf: 階段/模式 Phase :maple_leaf:", b.Phase)
	optional(":maple_leaf: 限傷 Notice :maple_leaf:", b.DamageLimit)
	optional(":maple_leaf: 破位效果 Break Effect :maple_leaf:", b.BreakEffect)
	optional(":maple_leaf: 注意 Notice :maple_leaf:", b.Notice)

	if b.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: b.ImageURL}
	}
	return e
}
