package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("BOKATI_TEST_MODE") == "" {
			_ = os.Setenv("BOKATI_TEST_MODE", "1")
		}
	})
}
