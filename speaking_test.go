package veilcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeakingDetectorMajority(t *testing.T) {
	var d speakingDetector

	assert.False(t, d.observe(true))
	assert.False(t, d.observe(true))
	assert.True(t, d.observe(true), "three of five voiced frames is a majority")
}

func TestSpeakingDetectorIgnoresBriefPop(t *testing.T) {
	var d speakingDetector

	assert.False(t, d.observe(true))
	for i := 0; i < speakingWindow; i++ {
		assert.False(t, d.observe(false))
	}
}

func TestSpeakingDetectorRidesThroughBriefDip(t *testing.T) {
	var d speakingDetector
	for i := 0; i < speakingWindow; i++ {
		d.observe(true)
	}

	assert.True(t, d.observe(false), "one silent frame must not end speaking")
	assert.True(t, d.observe(false))
	assert.False(t, d.observe(false), "sustained silence ends speaking")
}

func TestSpeakingDetectorReset(t *testing.T) {
	var d speakingDetector
	for i := 0; i < speakingWindow; i++ {
		d.observe(true)
	}
	d.reset()

	assert.False(t, d.observe(false))
}
