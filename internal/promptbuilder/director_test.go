package promptbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/blog-illustrator-service/internal/promptbuilder"
)

func TestBuildSystemInstruction_StyleProfiles(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		profile  string
		expected string
		aspect   string
	}{
		{profile: "", expected: "**Profile:** Editorial", aspect: "16:9"},
		{profile: "editorial", expected: "**Profile:** Editorial", aspect: "16:9"},
		{profile: "Technical", expected: "**Profile:** Technical", aspect: "4:3"},
		{profile: "playful", expected: "**Profile:** Playful", aspect: "16:9"},
		{profile: " photographic ", expected: "**Profile:** Photographic", aspect: "3:2"},
		{profile: "unknown", expected: "**Profile:** Editorial", aspect: "16:9"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.profile, func(t *testing.T) {
			t.Parallel()

			instruction := promptbuilder.BuildSystemInstruction(promptbuilder.DirectorConfig{
				StyleProfile: testCase.profile,
			})

			assert.Contains(t, instruction, testCase.expected)
			assert.Contains(t, instruction, "**Preferred aspect ratio:** "+testCase.aspect)
			assert.Contains(t, instruction, `"placements"`)
		})
	}
}

func TestBuildSystemInstruction_HeroAndConstraints(t *testing.T) {
	t.Parallel()

	plain := promptbuilder.BuildSystemInstruction(promptbuilder.DirectorConfig{})
	assert.NotContains(t, plain, "**Hero:**")
	assert.NotContains(t, plain, "USER CONSTRAINTS")

	full := promptbuilder.BuildSystemInstruction(promptbuilder.DirectorConfig{
		HeroImage:          true,
		CustomInstructions: "Prefer night scenes.",
		Exclusions:         []string{"code listings"},
	})

	assert.Contains(t, full, "**Hero:**")
	assert.Contains(t, full, "DO NOT ILLUSTRATE:\n- code listings")
	assert.Contains(t, full, "Additional Instructions: Prefer night scenes.")
}
