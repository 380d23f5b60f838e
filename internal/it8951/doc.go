// Package it8951 drives e-paper panels behind an ITE IT8951 timing
// controller over SPI.
//
// The controller is reached through a Transport (chip-select, preamble
// framing and a host-ready busy line), spoken to by a Controller (commands,
// registers, image loads and display requests) and fed from a 4-bit
// FrameBuffer whose dirty region the Scheduler turns into refresh requests.
// Driver ties these together behind a single object with setup, poll-tick
// update, clear, sleep and reset entry points.
//
// Datasheet: https://www.waveshare.net/w/upload/1/18/IT8951_D_V0.2.4.3_20170728.pdf
package it8951
