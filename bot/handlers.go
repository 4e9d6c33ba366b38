package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/charmbot/core/logger"
	tg "github.com/m3rciful/charmbot/core/telegram"
	"github.com/m3rciful/charmbot/core/telegram/callbacks"
	"github.com/m3rciful/charmbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/charmbot/core/telegram/helpers"
	"github.com/m3rciful/charmbot/core/telegram/keyboard"
	"github.com/m3rciful/charmbot/gate"
	"github.com/m3rciful/charmbot/payments"
	"github.com/m3rciful/charmbot/plans"
)

const (
	startGreeting = "Oi… então é você 😏\nA gente pode conversar um pouco… sem pressa."
	resetDone     = "Tudo limpo. Podemos recomeçar do zero 😌"

	paywallEscalation = "Calma… para continuar desse jeito você precisa liberar o acesso 😏\nEscolhe como prefere:"
	paywallExpired    = "Nosso tempo juntos acabou por agora… 🥺\nLibera de novo pra gente continuar:"
	paywallPending    = "Você já tem um pagamento em aberto… finaliza ele pra gente continuar 💕"
	paywallUpsell     = "Já que você está gostando… que tal liberar tudo? 😘"

	mediaLocked = "Fotos e áudios são só para quem tem acesso completo 😏 /premium"
	replyFailed = "Me perdi nos pensamentos… fala de novo? 🙈"

	checkoutCooldown = "Calma, apressadinho 😅 Espera um instante e tenta de novo."
	checkoutFailed   = "Não consegui gerar seu link agora 😔 Tenta de novo em instantes."

	planCallbackKey = "plan"
)

func (a *App) buildRegistry() *tg.Registry {
	reg := tg.NewRegistry()

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Começar a conversa",
	})
	reg.RegisterCommand("/premium", commands.Command{
		Handler:     a.handlePremium,
		Description: "Liberar acesso completo",
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     a.handleStatus,
		Description: "Ver seu acesso",
	})
	reg.RegisterCommand("/reset", commands.Command{
		Handler:     a.handleReset,
		Description: "Recomeçar a conversa",
	})
	reg.RegisterCommand("/sweep", commands.Command{
		Handler:   a.handleSweep,
		AdminOnly: true,
		Hidden:    true,
	})

	_ = reg.RegisterCallback(planCallbackKey, a.handlePlanPicked)
	reg.SetTextFallback(a.handleText)

	return reg
}

func (a *App) handleStart(c tele.Context) error {
	return tghelpers.SendText(c, startGreeting)
}

func (a *App) handleReset(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if err := a.store.Reset(ctx, c.Chat().ID); err != nil {
		return err
	}
	return tghelpers.SendText(c, resetDone)
}

func (a *App) handleStatus(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	s, err := a.store.Snapshot(ctx, c.Chat().ID)
	if err != nil {
		return err
	}

	switch {
	case s.Entitled(time.Now()):
		plan := a.catalog.Get(s.EntitledPlanID)
		return tghelpers.SendText(c, fmt.Sprintf(
			"Seu acesso %s está ativo até %s 💕",
			plan.Title, s.EntitlementExpiry.Format("02/01 15:04")))
	case s.Pending != nil:
		return tghelpers.SendText(c, "Você tem um pagamento em aberto. Finaliza ele que eu te espero 😌")
	default:
		return tghelpers.SendText(c, "Você ainda não liberou o acesso completo… /premium 😏")
	}
}

func (a *App) handlePremium(c tele.Context) error {
	return a.sendPaywall(c, paywallUpsell)
}

func (a *App) handleSweep(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	swept, err := a.janitor.Sweep(ctx)
	if err != nil {
		return err
	}
	return tghelpers.SendText(c, fmt.Sprintf("Sweep concluído: %d pendência(s) removida(s).", swept))
}

// handleText is the conversation path: the gate decides between a normal
// reply and the paywall.
func (a *App) handleText(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	sessionID := c.Chat().ID
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return nil
	}

	decision, err := a.gate.Evaluate(ctx, sessionID, text)
	if err != nil {
		return err
	}

	if decision.Outcome == gate.OutcomePaywall {
		return a.sendPaywall(c, paywallText(decision.Reason))
	}

	if err := a.store.AppendTurn(ctx, sessionID, "user", text); err != nil {
		return err
	}

	reply, err := a.llm.Reply(ctx, decision.Window, text)
	if err != nil {
		logger.Warn(ctx, "chat", "reply.fail",
			slog.Int64("chat_id", sessionID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendText(c, replyFailed)
	}

	if err := a.store.AppendTurn(ctx, sessionID, "assistant", reply); err != nil {
		return err
	}
	return tghelpers.SendText(c, reply)
}

// handleMedia gates inbound media requests behind the media capability.
func (a *App) handleMedia(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	s, err := a.store.Snapshot(ctx, c.Chat().ID)
	if err != nil {
		return err
	}
	if s.Entitled(time.Now()) && a.catalog.Get(s.EntitledPlanID).Caps.Has(plans.CapMedia) {
		return tghelpers.SendText(c, "Adorei 😍 Me conta mais sobre isso…")
	}
	return tghelpers.SendText(c, mediaLocked)
}

// handlePlanPicked issues the checkout for the chosen plan and hands the
// user the hosted payment link.
func (a *App) handlePlanPicked(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	sessionID := c.Chat().ID
	planID := callbacks.CallbackPayload(c)

	checkout, err := a.issuer.Issue(ctx, sessionID, planID)
	switch {
	case errors.Is(err, payments.ErrCooldown):
		return tghelpers.SendText(c, checkoutCooldown)
	case errors.Is(err, payments.ErrAlreadyPending):
		return tghelpers.SendText(c, paywallPending)
	case err != nil:
		return tghelpers.SendText(c, checkoutFailed)
	}

	label := fmt.Sprintf("Pagar %s — R$ %.2f", checkout.Plan.Title, checkout.Plan.Amount)
	return tghelpers.SendText(c,
		"Perfeito 😘 É só pagar aqui que eu libero na hora:",
		&tele.SendOptions{ReplyMarkup: keyboard.URLButton(label, checkout.PayURL)})
}

func (a *App) sendPaywall(c tele.Context, text string) error {
	btns := make([]keyboard.InlineBtn, 0, 3)
	for _, p := range a.catalog.All() {
		btns = append(btns, keyboard.InlineBtn{
			Text:   fmt.Sprintf("%s — R$ %.2f", p.Title, p.Amount),
			Unique: planCallbackKey,
			Data:   p.ID,
		})
	}
	return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: keyboard.InlineButtons(btns)})
}

func paywallText(reason string) string {
	switch reason {
	case "expired":
		return paywallExpired
	case "pending":
		return paywallPending
	case "upsell":
		return paywallUpsell
	default:
		return paywallEscalation
	}
}
