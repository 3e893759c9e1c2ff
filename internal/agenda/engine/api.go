package engine

import (
	"time"

	"agenda4go/internal/agenda/builder"
)

// Create starts a builder for a one-shot or unscheduled job named name
// carrying payload data. Callers chain Schedule/At/RepeatEvery/RepeatAt
// before calling Save.
func Create[T any](svc *Service, name string, data T) *builder.JobBuilder[T] {
	return builder.New[T](svc, name, data)
}

// ScheduleAt is shorthand for Create(svc, name, data).At(when).
func ScheduleAt[T any](svc *Service, name string, when time.Time, data T) *builder.JobBuilder[T] {
	return Create[T](svc, name, data).At(when)
}

// Every is shorthand for Create(svc, name, data).Single().RepeatEvery(spec,
// opts...).
func Every[T any](svc *Service, name, spec string, data T, opts ...builder.RepeatOptions) *builder.JobBuilder[T] {
	return Create[T](svc, name, data).Single().RepeatEvery(spec, opts...)
}

// Now is shorthand for a job that should run as soon as the poller next
// picks it up.
func Now[T any](svc *Service, name string, data T) *builder.JobBuilder[T] {
	return Create[T](svc, name, data)
}
