package app

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeySpace       = " "
	KeyReplay      = "p"
	KeyReadability = "r"
	KeyCorrectness = "c"
	KeyAskAI       = "a"
	KeyCopy        = "y"
)
