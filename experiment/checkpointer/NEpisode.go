package checkpointer

// nEpisode implements checkpointing every N episodes
type nEpisode struct {
	interval int

	// filename returns the name to save the next checkpoint under.
	//
	// If each checkpoint should be saved under a separate name with
	// each name having an incremented number as a suffix (e.g.
	// file1.bin, file2.bin, ..., fileK.bin), then simply use the
	// static function FilenameEnumerator, which will return a function
	// that will enumerate filenames.
	//
	// Otherwise, if each checkpoint should be saved under a separate
	// name, but the name does not matter, use the static function
	// FileTimer to generate the required naming function. For example:
	//
	// n := NewNEpisode(10, FileTimer("filename", ".bin"))
	filename func() string
}

// NewNEpisode returns a Schedule that is due every n episodes. A
// Schedule with n < 1 is never due.
func NewNEpisode(n int, filename func() string) Schedule {
	return &nEpisode{
		interval: n,
		filename: filename,
	}
}

// Due implements the Schedule interface
func (n *nEpisode) Due(episode int) (string, bool) {
	if n.interval < 1 || episode < 1 || episode%n.interval != 0 {
		return "", false
	}
	return n.filename(), true
}
