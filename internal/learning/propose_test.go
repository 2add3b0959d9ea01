package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/rootcause/internal/models"
)

func TestCommonTerms_Ranking(t *testing.T) {
	store := setupTestStore(t)
	texts := []string{"alpha beta beta gamma", "alpha beta delta", "alpha gamma"}

	// delta appears in one text of three, below the keyword share
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, store.commonTerms(texts, 0))
	// beta outranks gamma on total frequency
	assert.Equal(t, []string{"alpha", "beta"}, store.commonTerms(texts, 2))
	assert.Empty(t, store.commonTerms([]string{"the a an"}, 5))
}

func TestClusterCandidates_SameTermsShareCluster(t *testing.T) {
	store := setupTestStore(t)
	store.Tuning.SimilarityFloor = 1.1

	cands := []candidate{
		{id: "case-a", label: models.DynamicContentFailure, ev: models.EvidenceBundle{FailureLog: "Options not rendered, dropdown timeout"}},
		{id: "case-b", label: models.DynamicContentFailure, ev: models.EvidenceBundle{FailureLog: "dropdown TIMEOUT; options rendered"}},
		{id: "case-c", label: models.DynamicContentFailure, ev: models.EvidenceBundle{FailureLog: "login password rejected"}},
		{id: "case-d", label: models.WebsiteStateFailure, ev: models.EvidenceBundle{FailureLog: "options rendered dropdown timeout"}},
	}

	clusters := store.clusterCandidates(cands)

	require.Len(t, clusters, 3)
	assert.Equal(t, models.DynamicContentFailure, clusters[0].label)
	require.Len(t, clusters[0].members, 2)
	assert.Equal(t, "case-b", clusters[0].members[1].id)
	assert.Equal(t, models.WebsiteStateFailure, clusters[2].label, "labels never share a cluster")
}
