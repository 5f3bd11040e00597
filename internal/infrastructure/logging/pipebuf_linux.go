package logging

// pipeBuf is PIPE_BUF on Linux.
const pipeBuf = 4096
