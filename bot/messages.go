package bot

import (
	"fmt"
	"strings"
	"time"

	"telegram-pairing-bot/engine"
	"telegram-pairing-bot/pairing"
	"telegram-pairing-bot/storage"

	"github.com/samber/lo"
)

const (
	nextPairingLayout = "Monday, January 2 at 15:04 MST"
	dateLayout        = "January 02, 2006"
)

const (
	privateOnlyText = "❌ Please use this command in your group chat, not in private messages."
	failureText     = "⚠️ Something went wrong, please try again later."
)

// All builders return MarkdownV2 text.

func bold(text string) string {
	return "*" + escapeMarkdownV2(text) + "*"
}

func plain(lines ...string) string {
	return escapeMarkdownV2(strings.Join(lines, "\n"))
}

func formatNext(next time.Time) string {
	return next.Format(nextPairingLayout)
}

func startText(private bool, next time.Time) string {
	if private {
		return plain(
			"👋 Hi! I'm the Pairing Bot.",
			"",
			"Add me to your group chat and use /pairme there to join weekly pairings!",
		)
	}
	return plain(
		"🎉 Pairing Bot is now active in this group!",
		"",
		"📝 Use /pairme to join the weekly pairing",
		"📊 Use /status to see current participants",
		"👥 Use /mypair to see your pairing status",
		"🚪 Use /leave to remove yourself from pairings",
		"",
		fmt.Sprintf("💫 Every %s at %s, I'll randomly pair members and post the results here!",
			next.Format("Monday"), next.Format("15:04 MST")),
	)
}

func helpText() string {
	return bold("🤖 Available commands") + "\n\n" + plain(
		"/pairme - join the weekly pairing",
		"/leave - stop taking part in pairings",
		"/status - list current participants",
		"/mypair - show your pairing status",
		"/start - show the introduction",
	)
}

func joinText(name string, outcome engine.JoinOutcome, next time.Time) string {
	switch outcome.Result {
	case storage.AlreadyActive:
		return plain(fmt.Sprintf("✅ %s, you're already registered for weekly pairings in this group!", name))
	case storage.Rejoined:
		return plain(
			fmt.Sprintf("🎯 %s, welcome back to the weekly pairing list!", name),
			fmt.Sprintf("👥 Total participants in this group: %d", outcome.ActiveCount),
			"",
			"📅 Next pairing: "+formatNext(next),
		)
	default:
		return plain(
			fmt.Sprintf("🎯 %s, you've been added to the weekly pairing list!", name),
			fmt.Sprintf("👥 Total participants in this group: %d", outcome.ActiveCount),
			"",
			"📅 Next pairing: "+formatNext(next),
		)
	}
}

func leaveText(name string, outcome engine.LeaveOutcome) string {
	if outcome.Result == storage.NotMember {
		return plain(fmt.Sprintf("❌ %s, you're not currently registered for pairings in this group.", name))
	}
	return plain(
		fmt.Sprintf("👋 %s, you've been removed from the weekly pairing list.", name),
		"Use /pairme any time to come back.",
	)
}

func statusText(snapshot engine.Snapshot, next time.Time) string {
	active := snapshot.Active()
	if len(active) == 0 {
		return plain(
			"📝 No participants registered for weekly pairings yet.",
			"Use /pairme to join!",
		)
	}

	list := lo.Map(active, func(p storage.Participant, _ int) string {
		return "• " + p.DisplayName()
	})

	footer := []string{"", "📅 Next pairing: " + formatNext(next)}
	if last := snapshot.LastRound; last != nil {
		footer = append(footer, fmt.Sprintf("🗓 Last pairing: week %s", last.Period))
	}

	return bold(fmt.Sprintf("👥 Current participants (%d):", len(active))) + "\n\n" +
		plain(append([]string{strings.Join(list, "\n")}, footer...)...)
}

func myPairText(name string, status engine.PairStatus, next time.Time, loc *time.Location) string {
	p := status.Participant
	if p == nil && status.ActiveCount == 0 {
		return plain("❌ No pairing data found for this group. Use /pairme to join!")
	}

	lines := []string{bold("👤 Pairing status for " + name), ""}

	if p != nil && p.Active() {
		lines = append(lines,
			bold("✅ Current status:")+" "+escapeMarkdownV2("Registered for the next pairing"),
			plain(fmt.Sprintf("👥 Total participants: %d", status.ActiveCount)),
		)
	} else {
		lines = append(lines,
			bold("❌ Current status:")+" "+escapeMarkdownV2("Not registered"),
			plain("💡 Use /pairme to join next week's pairing!"),
		)
	}
	lines = append(lines, "")

	switch {
	case p != nil && p.LastRoundAt != nil && status.LastPartner != nil:
		lines = append(lines,
			bold("👥 Last partner:")+" "+escapeMarkdownV2(status.LastPartner.DisplayName()),
			bold("📅 Last pairing:")+" "+escapeMarkdownV2(p.LastRoundAt.In(loc).Format(dateLayout)),
		)
	case p != nil && p.LastRoundAt != nil && p.LastUnpaired:
		lines = append(lines,
			bold("👥 Last partner:")+" "+escapeMarkdownV2("None, you were the odd one out"),
			bold("📅 Last pairing:")+" "+escapeMarkdownV2(p.LastRoundAt.In(loc).Format(dateLayout)),
		)
	default:
		lines = append(lines, bold("👥 Last partner:")+" "+escapeMarkdownV2("None (first time or no history)"))
	}

	lines = append(lines, "", bold("📅 Next pairing:")+" "+escapeMarkdownV2(formatNext(next)))
	return strings.Join(lines, "\n")
}

func announcementText(result engine.RoundResult, loc *time.Location) string {
	round := result.Pairing
	if round.Size() < 2 {
		return plain(
			"👥 Only 1 person registered for pairings this week.",
			"Need at least 2 people to create pairs.",
			"Use /pairme to join next week!",
		)
	}

	title := result.Title
	if title == "" {
		title = "this group"
	}

	lines := lo.Map(round.Pairs, func(pair pairing.Pair, i int) string {
		return fmt.Sprintf("%d. %s ↔ %s", i+1, pair.First.Name, pair.Second.Name)
	})
	if round.Unpaired != nil {
		lines = append(lines, fmt.Sprintf("%d. %s (will join a group of 3 or meet someone new)",
			len(round.Pairs)+1, round.Unpaired.Name))
	}

	date := time.Now()
	if result.Round != nil {
		date = result.Round.CreatedAt
	}

	return bold("🎯 Weekly pairings for "+title) + "\n" +
		plain("📅 "+date.In(loc).Format(dateLayout), "") + "\n" +
		plain(lines...) + "\n\n" +
		plain("💬 Reach out to your pair this week!", "📝 Use /leave if you want to skip the next pairings")
}
