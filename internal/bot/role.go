package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	cmdSetRole = "set_role"
	optNewRole = "new_role"
	cmdInfo    = "info"
	subBoss    = "boss"
)

const (
	msgRoleSet   = "✅ 你的角色已成功設定為："
	msgError     = "❌ 發生錯誤: "
	msgRoleUsage = "用法：%sset_role <角色名稱>"
)

// SetRole stores role as the user's current role and returns the message to
// show them.
func (b *Bot) SetRole(ctx context.Context, userID, role string) string {
	p, err := b.cfg.Profiles.Get(ctx, userID)
	if err != nil {
		b.logger.Error("error loading profile", "user_id", userID, tint.Err(err))
		return msgError + err.Error()
	}
	if err := b.cfg.Profiles.Update(ctx, userID, p.WithRole(userID, role)); err != nil {
		b.logger.Error("error saving role", "user_id", userID, tint.Err(err))
		return msgError + err.Error()
	}
	b.logger.Info("role updated", "user_id", userID, "role", role)
	return msgRoleSet + role
}

func (b *Bot) handleSetRoleCommand(i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) {
	user := interactionUser(i)
	if user == nil {
		return
	}
	var role string
	for _, opt := range data.Options {
		if opt.Name == optNewRole {
			role = strings.TrimSpace(opt.StringValue())
		}
	}
	if role == "" {
		b.respondEphemeral(i, fmt.Sprintf(msgRoleUsage, "/"))
		return
	}

	b.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: b.SetRole(b.baseContext(), user.ID, role),
		},
	})
}

// handlePrefixCommand runs text commands such as "!set_role 騎士".
func (b *Bot) handlePrefixCommand(m *discordgo.Message) {
	prefix := b.cfg.CommandPrefix
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(m.Content, prefix), " ")
	if name != cmdSetRole {
		return
	}

	role := strings.TrimSpace(args)
	if role == "" {
		b.send(m.ChannelID, fmt.Sprintf(msgRoleUsage, prefix))
		return
	}
	b.send(m.ChannelID, b.SetRole(b.baseContext(), m.Author.ID, role))
}
