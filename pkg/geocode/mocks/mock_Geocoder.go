// Package mocks provides test doubles for the geocode package.
package mocks

import (
	"context"

	geocode "github.com/medpanel/provider-geocoder/pkg/geocode"
	mock "github.com/stretchr/testify/mock"
)

// MockGeocoder is a mock type for the Geocoder interface.
type MockGeocoder struct {
	mock.Mock
}

// Name provides a mock function with given fields:
func (_m *MockGeocoder) Name() string {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Name")
	}

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// Geocode provides a mock function with given fields: ctx, q
func (_m *MockGeocoder) Geocode(ctx context.Context, q geocode.Query) (*geocode.Result, error) {
	ret := _m.Called(ctx, q)

	if len(ret) == 0 {
		panic("no return value specified for Geocode")
	}

	var r0 *geocode.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, geocode.Query) (*geocode.Result, error)); ok {
		return rf(ctx, q)
	}
	if rf, ok := ret.Get(0).(func(context.Context, geocode.Query) *geocode.Result); ok {
		r0 = rf(ctx, q)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*geocode.Result)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, geocode.Query) error); ok {
		r1 = rf(ctx, q)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockGeocoder creates a new instance of MockGeocoder.
func NewMockGeocoder(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGeocoder {
	mock := &MockGeocoder{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
