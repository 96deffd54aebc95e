package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointAllowed(t *testing.T) {
	allowed := []State{StateIdle, StateActiveLoop, StateResuming, StateClaiming}
	for _, s := range allowed {
		assert.True(t, checkpointAllowed(s), string(s))
	}

	refused := []State{
		StateInitializing,
		StateHouseAds,
		StateMiningAd,
		StateAntiAFK,
		StateCompleted,
	}
	for _, s := range refused {
		assert.False(t, checkpointAllowed(s), string(s))
	}
}
