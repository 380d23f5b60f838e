package it8951

// Command is a 16-bit controller command word.
type Command uint16

// Commands understood by the controller.
const (
	cmdSysRun      Command = 0x0001
	cmdStandby     Command = 0x0002
	cmdSleep       Command = 0x0003
	cmdRegRead     Command = 0x0010
	cmdRegWrite    Command = 0x0011
	cmdLoadImgArea Command = 0x0021
	cmdLoadImgEnd  Command = 0x0022
	cmdDisplayArea Command = 0x0034
	cmdDisplayBuf  Command = 0x0037
	cmdVCOM        Command = 0x0039
	cmdGetDevInfo  Command = 0x0302
)

// Preamble words that open every chip-select bracket.
const (
	preambleCommand uint16 = 0x6000
	preambleWrite   uint16 = 0x0000
	preambleRead    uint16 = 0x1000
)

// Registers used by the driver.
const (
	// RegI80CPCR selects packed pixel writes when set to 1.
	RegI80CPCR uint16 = 0x0004
	// RegLISAR holds the low word of the image load target address; the high
	// word lives at RegLISAR+2.
	RegLISAR uint16 = 0x0208
	// RegUP1SR is the update parameter register.
	RegUP1SR uint16 = 0x1138
	// RegLUTAFSR is non-zero while any display LUT is running.
	RegLUTAFSR uint16 = 0x1224
)

// Load image argument fields.
const (
	endianBig  = 1
	bpp4       = 2
	rotate0    = 0
	pixelsWord = 4 // pixels carried by one 16-bit word at 4bpp
)

// VCOM sub-commands.
const (
	vcomGet uint16 = 0
	vcomSet uint16 = 1
)

// Waveform mode numbers of the stock firmware.
const (
	WaveformINIT  uint16 = 0
	WaveformDU    uint16 = 1
	WaveformGC16  uint16 = 2
	WaveformGL16  uint16 = 3
	WaveformGLR16 uint16 = 4
	WaveformGLD16 uint16 = 5
	WaveformA2    uint16 = 6
	WaveformDU4   uint16 = 7
)
