package util

import (
	"fmt"
	"math/rand"
)

var nicknames = []string{
	"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel", "India", "Juliett",
	"Kilo", "Lima", "Mike", "November", "Oscar", "Papa", "Quebec", "Romeo", "Sierra", "Tango",
	"Uniform", "Victor", "Whiskey", "Yankee", "Zulu", "Ruby", "Sapphire", "Emerald", "Topaz", "Jade",
	"Cipher", "Ghost", "Shadow", "Phantom", "Viper", "Fenrir", "Sleipnir", "Ragnar", "Bjorn", "Floki",
	"Sigurd", "Valkyrie", "Skadi", "Hrafn", "Eirik", "Proxy", "Kernel", "Daemon", "Byte", "Glitch",
}

// GenerateRandomNickname returns a name from the built-in list with a
// five digit tag, e.g. "Skadi#40213".
func GenerateRandomNickname() string {
	return NicknameFrom(rand.Intn)
}

// NicknameFrom builds a nickname using intn as the random source.
func NicknameFrom(intn func(n int) int) string {
	name := nicknames[intn(len(nicknames))]
	tag := intn(90000) + 10000
	return fmt.Sprintf("%s#%d", name, tag)
}
