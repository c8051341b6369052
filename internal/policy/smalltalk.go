package policy

import (
	"regexp"
	"strings"
)

var (
	greetingRe = regexp.MustCompile(`^(hi|hello|hey|hiya|yo|gm|gn|howdy|greetings|good (morning|afternoon|evening)|thanks|thank you|ok|okay|cool|bye|goodbye)( (there|all|everyone|scout|agent|bot|friend|fren|ser))*$`)
	aboutRe    = regexp.MustCompile(`^(who|what) are you$|^what (do|can) you do$|^what is this$|^how do you work$|^help$|^what can i ask( you)?$|^how are you( doing)?$`)
	punctRe    = regexp.MustCompile(`[^\p{L}\p{N}\s']+`)
)

// IsSmallTalk reports whether text is a greeting or a question about the
// agent itself. Such input is answered directly, without tools.
func IsSmallTalk(text string) bool {
	t := strings.ToLower(text)
	t = punctRe.ReplaceAllString(t, " ")
	t = strings.ReplaceAll(t, "'", "")
	t = strings.Join(strings.Fields(t), " ")
	if t == "" {
		return false
	}
	return greetingRe.MatchString(t) || aboutRe.MatchString(t)
}
