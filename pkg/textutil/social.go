// Package textutil 存放入库与回复流程共用的文本小工具。
package textutil

import (
	"regexp"
	"strings"
)

var (
	socialURL = regexp.MustCompile(`(?i)(https?://)?(www\.)?\b(t\.me|telegram\.(me|org|dog)|instagram\.com|instagr\.am|youtube\.com|youtu\.be)(/\S*)?`)
	// 形如 "Telegram: @kanal"、"instagram - @page"
	socialHandle = regexp.MustCompile(`(?i)\b(telegram|instagram|youtube|tg|insta)\b\s*[:\-]?\s*@\w+`)
	socialWord   = regexp.MustCompile(`(?i)\b(telegram|instagram|youtube)\b`)
	spaces       = regexp.MustCompile(`[ \t]{2,}`)
)

// StripSocialLinks 去掉文本中的 Telegram、Instagram、YouTube 链接、账号与平台名称。
func StripSocialLinks(s string) string {
	s = socialURL.ReplaceAllString(s, "")
	s = socialHandle.ReplaceAllString(s, "")
	s = socialWord.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ContainsSocialLink 判断 s 中是否仍提到被过滤的平台。
func ContainsSocialLink(s string) bool {
	return socialURL.MatchString(s) || socialWord.MatchString(s)
}
