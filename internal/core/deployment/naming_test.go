package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// InstanceName Tests
// =============================================================================

func TestInstanceName_Computed(t *testing.T) {
	assert.Equal(t, "shop_web_1", InstanceName("shop", "web", "", 1))
	assert.Equal(t, "shop_web_12", InstanceName("shop", "web", "", 12))
}

func TestInstanceName_FixedNameWins(t *testing.T) {
	assert.Equal(t, "my-web", InstanceName("shop", "web", "my-web", 1))
}

func TestInstanceName_Underscores(t *testing.T) {
	assert.Equal(t, "my_shop_api_v2_1", InstanceName("my_shop", "api_v2", "", 1))
}

// =============================================================================
// RunContainerName Tests
// =============================================================================

func TestRunContainerName(t *testing.T) {
	assert.Equal(t, "shop_web_run_abc123", RunContainerName("shop", "web", "abc123"))
}
