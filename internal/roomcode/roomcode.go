// Package roomcode generates friendly, low-collision room codes of the form
// adjective-noun-NN. Codes are opaque to the rest of the system; anything
// non-empty names a room.
package roomcode

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "lucky", "breezy", "mellow", "zesty",
}

var nouns = []string{
	"otter", "panda", "koala", "fox", "hedgehog", "squirrel", "penguin", "flamingo", "toucan", "narwhal",
	"sunbeam", "stardust", "pepper", "muffin", "bubble", "sprout", "glimmer", "echo", "marble", "maple",
	"cocoa", "hazel", "breeze", "meadow", "willow", "ember", "poppy", "pixel", "comet", "orbit",
}

// Generate returns a new random room code.
func Generate() string {
	adjective := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	return fmt.Sprintf("%s-%s-%02d", adjective, noun, rand.Intn(100))
}
