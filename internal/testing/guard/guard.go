package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PARLOR_TEST_MODE") == "" {
			_ = os.Setenv("PARLOR_TEST_MODE", "1")
		}
	})
}
