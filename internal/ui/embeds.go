package ui

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rvainola/sonata/internal/player"
	"github.com/rvainola/sonata/internal/utils"
)

func trackLink(t *player.Track) string {
	link := t.SourceURL
	if t.Source == player.SourceYouTube && t.OffsetSec > 0 {
		link += "&t=" + fmt.Sprint(t.OffsetSec)
	}
	return fmt.Sprintf("[%s](%s)", utils.EscapeMd(t.Title), link)
}

func ProgressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	dot := int(float64(width) * progress)
	if dot >= width {
		dot = width - 1
	}
	out := make([]rune, 0, width)
	for i := 0; i < width; i++ {
		if i == dot {
			out = append(out, '🔘')
		} else {
			out = append(out, '▬')
		}
	}
	return string(out)
}

func BuildPlayingEmbed(sess *player.Session) *discordgo.MessageEmbed {
	cur := sess.NowPlaying()
	if cur == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "No playing song found",
			Color:       0x992222,
		}
	}
	pos := sess.Position()
	button := "⏹️"
	if sess.IsPaused() {
		button = "▶️"
	}
	progress := 0.0
	if cur.DurationSec > 0 {
		progress = float64(pos) / float64(cur.DurationSec)
	}
	bar := ProgressBar(10, progress)
	elapsed := "live"
	if !cur.IsLive {
		elapsed = fmt.Sprintf("%s/%s", utils.PrettyTime(pos), utils.PrettyTime(cur.DurationSec))
	}

	desc := fmt.Sprintf("**%s**\nRequested by: <@%s>\n\n%s %s `[ %s ]`",
		trackLink(cur),
		cur.RequestedBy,
		button, bar, elapsed,
	)

	color := 0x006400
	title := "Now Playing"
	if sess.IsPaused() {
		color = 0x8B0000
		title = "Paused"
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Source: %s", cur.Artist),
		},
	}
	if cur.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cur.Thumbnail}
	}
	return embed
}

func BuildQueueEmbed(sess *player.Session, page, pageSize int) (*discordgo.MessageEmbed, error) {
	cur := sess.NowPlaying()
	if cur == nil {
		return nil, fmt.Errorf("queue is empty")
	}
	if page < 1 {
		page = 1
	}
	pending := sess.Pending()
	total := len(pending)
	maxPage := (total+pageSize-1)/pageSize + 1
	if page > maxPage {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	begin := (page - 1) * pageSize
	end := begin + pageSize
	if begin > total {
		begin = total
	}
	if end > total {
		end = total
	}

	out := ""
	for idx, t := range pending[begin:end] {
		dur := "live"
		if !t.IsLive {
			dur = utils.PrettyTime(t.DurationSec)
		}
		out += fmt.Sprintf("`%d.` %s `[ %s ]`\n", begin+idx+1, trackLink(t), dur)
	}

	totalLen := 0
	for _, t := range pending {
		totalLen += t.DurationSec
	}

	desc := fmt.Sprintf("**%s**\nRequested by: <@%s>\n\n", trackLink(cur), cur.RequestedBy)

	pos := sess.Position()
	progress := 0.0
	if cur.DurationSec > 0 {
		progress = float64(pos) / float64(cur.DurationSec)
	}
	elapsed := "live"
	if !cur.IsLive {
		elapsed = fmt.Sprintf("%s/%s", utils.PrettyTime(pos), utils.PrettyTime(cur.DurationSec))
	}
	desc += fmt.Sprintf("%s `[ %s ]`\n\n", ProgressBar(10, progress), elapsed)

	if out != "" {
		desc += "**Up next:**\n" + out
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: desc,
		Color:       0x006400,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: queueInfo(total), Inline: true},
			{Name: "Total length", Value: totalLenStr(totalLen), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Source: %s %s", cur.Artist, func() string {
				if cur.Playlist != nil {
					return "(" + cur.Playlist.Title + ")"
				}
				return ""
			}()),
		},
	}
	if cur.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cur.Thumbnail}
	}
	return embed, nil
}

// BuildAllQueueEmbed renders one page of the combined history and queue
// view: played tracks oldest first carrying H prefixes, then the current
// track and everything pending carrying Q prefixes.
func BuildAllQueueEmbed(sess *player.Session, page, pageSize int) (*discordgo.MessageEmbed, error) {
	return allQueueEmbed(sess.History(), sess.NowPlaying(), sess.Pending(), page, pageSize)
}

func allQueueEmbed(hist []*player.Track, cur *player.Track, pending []*player.Track, page, pageSize int) (*discordgo.MessageEmbed, error) {
	current := make([]*player.Track, 0, len(pending)+1)
	if cur != nil {
		current = append(current, cur)
	}
	current = append(current, pending...)

	total := len(hist) + len(current)
	if total == 0 {
		return nil, fmt.Errorf("nothing has played yet and the queue is empty")
	}
	if page < 1 {
		page = 1
	}
	maxPage := (total + pageSize - 1) / pageSize
	if maxPage < 1 {
		maxPage = 1
	}
	if page > maxPage {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	lines := make([]string, 0, total)
	for idx, t := range hist {
		lines = append(lines, fmt.Sprintf("`H%d.` %s `[ %s ]`", idx+1, trackLink(t), trackLen(t)))
	}
	for idx, t := range current {
		line := fmt.Sprintf("`Q%d.` %s `[ %s ]`", idx+1, trackLink(t), trackLen(t))
		if idx == 0 && cur != nil {
			line += " *(current)*"
		}
		lines = append(lines, line)
	}

	begin := (page - 1) * pageSize
	end := begin + pageSize
	if end > total {
		end = total
	}

	desc := fmt.Sprintf("Showing **%d-%d** of **%d** tracks.\nPrefixes: **H** = history, **Q** = current queue.\n\n",
		begin+1, end, total)
	desc += strings.Join(lines[begin:end], "\n")

	return &discordgo.MessageEmbed{
		Title:       "History + Full Queue",
		Description: desc,
		Color:       0x006400,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "History", Value: queueInfo(len(hist)), Inline: true},
			{Name: "Current queue", Value: queueInfo(len(current)), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
	}, nil
}

func trackLen(t *player.Track) string {
	if t.IsLive {
		return "live"
	}
	return utils.PrettyTime(t.DurationSec)
}

func queueInfo(n int) string {
	switch {
	case n == 0:
		return "-"
	case n == 1:
		return "1 song"
	default:
		return fmt.Sprintf("%d songs", n)
	}
}

func totalLenStr(sec int) string {
	if sec <= 0 {
		return "-"
	}
	return utils.PrettyTime(sec)
}
