package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eclipse-score/lola-discovery/cache"
	"github.com/eclipse-score/lola-discovery/domain"
)

func instance(v domain.InstanceId) *domain.InstanceId { return &v }

func TestInsertFindAnyIsNoop(t *testing.T) {
	c := cache.New()
	assert.False(t, c.Insert(1, nil))
}

func TestInsertAndLookup(t *testing.T) {
	c := cache.New()
	assert.True(t, c.Insert(1, instance(5)))
	assert.False(t, c.Insert(1, instance(5)), "duplicate insert reports false")

	handles := c.GetKnownHandles(domain.NewFindAnyIdentifier(1, domain.QualityQM))
	assert.ElementsMatch(t, []domain.HandleType{domain.NewHandle(1, 5, domain.QualityQM)}, handles)

	handles = c.GetKnownHandles(domain.NewIdentifier(1, 5, domain.QualityQM))
	assert.Len(t, handles, 1)

	handles = c.GetKnownHandles(domain.NewIdentifier(1, 6, domain.QualityQM))
	assert.Empty(t, handles)
}

func TestRemove(t *testing.T) {
	c := cache.New()
	c.Insert(1, instance(5))
	assert.True(t, c.Remove(1, instance(5)))
	assert.False(t, c.Remove(1, instance(5)))
	assert.Empty(t, c.GetKnownHandles(domain.NewFindAnyIdentifier(1, domain.QualityQM)))
}

func TestMerge(t *testing.T) {
	a := cache.New()
	a.Insert(1, instance(1))
	b := cache.New()
	b.Insert(1, instance(2))
	b.Insert(2, instance(9))

	a.Merge(b)

	assert.ElementsMatch(t, []domain.HandleType{
		domain.NewHandle(1, 1, domain.QualityQM),
		domain.NewHandle(1, 2, domain.QualityQM),
	}, a.GetKnownHandles(domain.NewFindAnyIdentifier(1, domain.QualityQM)))

	assert.ElementsMatch(t, []domain.HandleType{
		domain.NewHandle(2, 9, domain.QualityQM),
	}, a.GetKnownHandles(domain.NewFindAnyIdentifier(2, domain.QualityQM)))
}
