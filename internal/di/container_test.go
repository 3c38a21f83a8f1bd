package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct{ name string }

func TestContainerRegisterAndResolve(t *testing.T) {
	c := NewContainer()
	c.Register(ServicePipeline, &fakeService{name: "p"})
	c.Register(ServiceExport, "not a service")

	svc, err := Resolve[*fakeService](c, ServicePipeline)
	require.NoError(t, err)
	assert.Equal(t, "p", svc.name)

	_, err = Resolve[*fakeService](c, ServiceExport)
	assert.ErrorContains(t, err, "类型不匹配")

	_, err = Resolve[*fakeService](c, ServiceHub)
	assert.ErrorContains(t, err, "未注册")

	assert.Equal(t, []string{ServiceExport, ServicePipeline}, c.GetNames())
	assert.True(t, c.Has(ServiceExport))

	c.Clear()
	assert.False(t, c.Has(ServicePipeline))
	assert.Empty(t, c.GetNames())
}

func TestMustResolvePanicsWhenMissing(t *testing.T) {
	c := NewContainer()
	assert.Panics(t, func() {
		MustResolve[*fakeService](c, ServiceGateway)
	})
}

func TestGetContainerIsSingleton(t *testing.T) {
	assert.Same(t, GetContainer(), GetContainer())
}
