package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"paykiosk/pkg/gateway"
	"paykiosk/pkg/models"
)

type kioskTestContext struct {
	t            *testing.T
	h            *harness
	callsAtLogin int
	basket       map[string]models.BasketLine
}

func (k *kioskTestContext) reset() {
	k.h = newHarness(k.t)
	k.callsAtLogin = 0
	k.basket = make(map[string]models.BasketLine)
}

func (k *kioskTestContext) anOperatorIsLoggedIn(role string) error {
	roles := map[string]models.Role{
		"issuance": models.RoleIssuanceOperator,
		"charge":   models.RoleChargeOperator,
		"catalog":  models.RoleCatalogOperator,
	}
	k.h.gw.catalog = testCatalog()
	k.h.fire(timerScreen)
	k.h.gw.auth = &gateway.AuthResult{Token: "tok", RoleID: roles[role]}
	k.h.send(LoginSubmitted{Email: "operater@fest.rs", Password: "lozinka"})
	if k.h.c.screen != models.ScreenCard {
		return fmt.Errorf("login ended on %s", k.h.c.screen)
	}
	k.callsAtLogin = k.h.gw.total()
	return nil
}

func (k *kioskTestContext) theServerIssues(number, secret string) error {
	k.h.gw.issuance = &gateway.IssuanceInfo{CardNumber: number, Secret: secret}
	return nil
}

func (k *kioskTestContext) confirmationsUnreachable() error {
	k.h.gw.confirmErr = errOffline
	return nil
}

func (k *kioskTestContext) cardHolds(uid, number, secret string) error {
	k.h.prepareCard(uid, number, secret)
	return nil
}

func (k *kioskTestContext) cardResolvesTo(slug string, balance int) error {
	k.h.gw.cred = &gateway.Credential{Slug: slug, Balance: decimal.NewFromInt(int64(balance))}
	return nil
}

func (k *kioskTestContext) cardIsTapped(uid string) error {
	k.h.send(CardDetected{ID: uid})
	return nil
}

func (k *kioskTestContext) blockDecodesTo(block int, uid, want string) error {
	got, err := k.h.codec.DecodeField(k.h.rd.blocks[uid][block])
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("block %d holds %q, want %q", block, got, want)
	}
	return nil
}

func (k *kioskTestContext) secretOpensTo(uid, want string) error {
	got, err := k.h.codec.OpenSecret(k.h.rd.blocks[uid][models.BlockSecret], testPIN)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("secret is %q, want %q", got, want)
	}
	return nil
}

func (k *kioskTestContext) confirmedTimes(n int) error {
	if got := k.h.gw.count("write"); got != n {
		return fmt.Errorf("confirmed %d times, want %d", got, n)
	}
	return nil
}

func (k *kioskTestContext) noCallAfterLogin() error {
	if got := k.h.gw.total(); got != k.callsAtLogin {
		return fmt.Errorf("%d server calls after login", got-k.callsAtLogin)
	}
	return nil
}

func (k *kioskTestContext) theScreenIs(screen string) error {
	if got := k.h.c.View().Screen; string(got) != screen {
		return fmt.Errorf("screen is %s, want %s", got, screen)
	}
	return nil
}

func (k *kioskTestContext) lastNoticeIs(level string) error {
	n := k.h.lastNotice()
	if n == nil {
		return fmt.Errorf("no notice")
	}
	if string(n.Level) != level {
		return fmt.Errorf("notice %q is %s, want %s", n.Title, n.Level, level)
	}
	return nil
}

func (k *kioskTestContext) lastNoticeWithCode(level, code string) error {
	if err := k.lastNoticeIs(level); err != nil {
		return err
	}
	if got := k.h.lastNotice().Code; got != code {
		return fmt.Errorf("notice code %s, want %s", got, code)
	}
	return nil
}

func (k *kioskTestContext) lastNoticeContains(text string) error {
	n := k.h.lastNotice()
	if n == nil || !strings.Contains(n.Message, text) {
		return fmt.Errorf("last notice does not contain %q", text)
	}
	return nil
}

func (k *kioskTestContext) theBasketHolds(table *godog.Table) error {
	for i, row := range table.Rows {
		if i == 0 {
			continue
		}
		price, err := strconv.ParseFloat(row.Cells[1].Value, 64)
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(row.Cells[2].Value)
		if err != nil {
			return err
		}
		id := strconv.Itoa(i)
		k.basket[id] = models.BasketLine{
			Product:  models.Product{ID: models.ProductID(id), Name: row.Cells[0].Value, Price: price},
			Quantity: qty,
		}
	}
	return nil
}

func (k *kioskTestContext) serverAnswersWith(status string) error {
	k.h.gw.status = &gateway.StatusResponse{Status: status}
	return nil
}

func (k *kioskTestContext) finishesTheOrder() error {
	k.h.send(OrderAction{Kind: OrderFinish, Lines: k.basket})
	return nil
}

func (k *kioskTestContext) thePromptReads(doc *godog.DocString) error {
	p := k.h.openPrompt()
	if p == nil {
		return fmt.Errorf("no prompt open")
	}
	if p.Message != doc.Content {
		return fmt.Errorf("prompt reads %q, want %q", p.Message, doc.Content)
	}
	return nil
}

func (k *kioskTestContext) answersThePrompt(answer string) error {
	p := k.h.openPrompt()
	if p == nil {
		return fmt.Errorf("no prompt open")
	}
	k.h.send(PromptAnswered{PromptID: p.ID, Accepted: answer == "accepts"})
	return nil
}

func (k *kioskTestContext) thePromptTimesOut() error {
	if !k.h.fire(timerPrompt) {
		return fmt.Errorf("no prompt timer pending")
	}
	return nil
}

func (k *kioskTestContext) serverReceivedTotal(total int) error {
	if got := k.h.gw.lastOrder.TotalPrice; got != int64(total) {
		return fmt.Errorf("server received %d, want %d", got, total)
	}
	return nil
}

func (k *kioskTestContext) noPaymentSent() error {
	if n := k.h.gw.count("checkout"); n != 0 {
		return fmt.Errorf("%d payments sent", n)
	}
	return nil
}

func (k *kioskTestContext) theBalanceIs(want string) error {
	w, err := decimal.NewFromString(want)
	if err != nil {
		return err
	}
	if got := k.h.c.View().Balance; !got.Equal(w) {
		return fmt.Errorf("balance is %s, want %s", got, w)
	}
	return nil
}

func (k *kioskTestContext) basketWasCleared() error {
	if len(k.h.eventsOf(EventBasketCleared)) == 0 {
		return fmt.Errorf("basket was not cleared")
	}
	return nil
}

func (k *kioskTestContext) resultDelayPasses() error {
	if !k.h.fire(timerScreen) {
		return fmt.Errorf("no screen timer pending")
	}
	return nil
}

func (k *kioskTestContext) changesTheCredit(direction, amount string) error {
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	dir := models.DirectionIncrease
	if direction == "decreases" {
		dir = models.DirectionDecrease
	}
	k.h.send(CreditChangeRequested{Direction: dir, Amount: a})
	return nil
}

func (k *kioskTestContext) noBalanceChangeSent() error {
	if n := k.h.gw.count("change-balance"); n != 0 {
		return fmt.Errorf("%d balance changes sent", n)
	}
	return nil
}

func (k *kioskTestContext) asksToLogOut() error {
	k.h.send(LogoutRequested{})
	return nil
}

func (k *kioskTestContext) isLoggedOut() error {
	if k.h.c.View().Authenticated {
		return fmt.Errorf("operator still logged in")
	}
	return nil
}

func initializeKioskScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		k := &kioskTestContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			k.reset()
			return ctx, nil
		})

		// Given steps
		ctx.Step(`^an? (issuance|charge|catalog) operator is logged in$`, k.anOperatorIsLoggedIn)
		ctx.Step(`^the server issues card number "([^"]*)" with secret "([^"]*)"$`, k.theServerIssues)
		ctx.Step(`^the server is unreachable for confirmations$`, k.confirmationsUnreachable)
		ctx.Step(`^card "([^"]*)" holds card number "([^"]*)" and secret "([^"]*)"$`, k.cardHolds)
		ctx.Step(`^the card resolves to account "([^"]*)" with balance (\d+)$`, k.cardResolvesTo)
		ctx.Step(`^the basket holds:$`, k.theBasketHolds)
		ctx.Step(`^the server answers the (?:payment|balance change) with status "([^"]*)"$`, k.serverAnswersWith)

		// When steps
		ctx.Step(`^card "([^"]*)" is tapped$`, k.cardIsTapped)
		ctx.Step(`^the operator finishes the order$`, k.finishesTheOrder)
		ctx.Step(`^the operator (accepts|declines) the prompt$`, k.answersThePrompt)
		ctx.Step(`^the prompt times out$`, k.thePromptTimesOut)
		ctx.Step(`^the result delay passes$`, k.resultDelayPasses)
		ctx.Step(`^the operator (increases|decreases) the credit by (\S+)$`, k.changesTheCredit)
		ctx.Step(`^the operator asks to log out$`, k.asksToLogOut)

		// Then steps
		ctx.Step(`^block (\d+) of card "([^"]*)" decodes to "([^"]*)"$`, k.blockDecodesTo)
		ctx.Step(`^the sealed secret on card "([^"]*)" opens to "([^"]*)"$`, k.secretOpensTo)
		ctx.Step(`^the server was asked to confirm (\d+) times?$`, k.confirmedTimes)
		ctx.Step(`^no server call was made after login$`, k.noCallAfterLogin)
		ctx.Step(`^the screen is "([^"]*)"$`, k.theScreenIs)
		ctx.Step(`^the last notice is an? (info|success|warning|error)$`, k.lastNoticeIs)
		ctx.Step(`^the last notice is an? (info|success|warning|error) with code "([^"]*)"$`, k.lastNoticeWithCode)
		ctx.Step(`^the last notice contains "([^"]*)"$`, k.lastNoticeContains)
		ctx.Step(`^the prompt reads:$`, k.thePromptReads)
		ctx.Step(`^the server received a total of (\d+)$`, k.serverReceivedTotal)
		ctx.Step(`^no payment was sent$`, k.noPaymentSent)
		ctx.Step(`^the balance is (\S+)$`, k.theBalanceIs)
		ctx.Step(`^the basket was cleared$`, k.basketWasCleared)
		ctx.Step(`^no balance change was sent$`, k.noBalanceChangeSent)
		ctx.Step(`^the operator is logged out$`, k.isLoggedOut)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeKioskScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
