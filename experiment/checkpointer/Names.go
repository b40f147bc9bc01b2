package checkpointer

import (
	"fmt"
	"time"
)

// FilenameEnumerator returns a function which will return filenames
// with a counter integer suffix. Each time the returned function is
// called, the counter is one higher than on the previous call, with
// the first call returning start+1.
func FilenameEnumerator(start int, filename, extension string) func() string {
	i := start
	return func() string {
		i++
		return fmt.Sprintf("%v%v%v", filename, i, extension)
	}
}

// FileTimer returns a function which appends the current UTC time to
// a filename
func FileTimer(filename, extension string) func() string {
	return func() string {
		return fmt.Sprintf("%v-%v%v", filename,
			time.Now().UTC().Format("20060102T150405.000000000"), extension)
	}
}

// Fixed returns a function which always returns filename
func Fixed(filename string) func() string {
	return func() string {
		return filename
	}
}
