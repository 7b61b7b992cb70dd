package social

import "fmt"

// FormatFeedPost renders a feed item as a markdown section for scan
// artifacts.
func FormatFeedPost(p FeedPost) string {
	author := p.Post.Author.DisplayName
	if author == "" {
		author = p.Post.Author.Handle
	}
	if author == "" {
		author = "?"
	}
	handle := ""
	if p.Post.Author.Handle != "" {
		handle = fmt.Sprintf(" (@%s)", p.Post.Author.Handle)
	}
	return fmt.Sprintf("## %s%s\n%s\n\n[%s] · 👍 %d  💬 %d  🔁 %d\n",
		author, handle, p.Post.Record.Text, p.Post.URI,
		p.Post.LikeCount, p.Post.ReplyCount, p.Post.RepostCount)
}

// FormatNotification renders a mention/reply/quote notification.
func FormatNotification(n Notification) string {
	author := n.Author.DisplayName
	if author == "" {
		author = n.Author.Handle
	}
	if author == "" {
		author = "?"
	}
	handle := ""
	if n.Author.Handle != "" {
		handle = fmt.Sprintf(" (@%s)", n.Author.Handle)
	}
	reason := ""
	if n.Reason != "" {
		reason = fmt.Sprintf(" [%s]", n.Reason)
	}
	return fmt.Sprintf("## %s%s%s\n%s\n\n", author, handle, reason, n.Record.Text)
}
