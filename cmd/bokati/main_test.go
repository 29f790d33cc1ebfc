package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/app"
	_ "github.com/roro-pixel/bokati-sub001/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
